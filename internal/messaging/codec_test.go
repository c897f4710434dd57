package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/quantdyne/breakout/internal/types"
)

type CodecTestSuite struct {
	suite.Suite
}

func TestCodecSuite(t *testing.T) {
	suite.Run(t, new(CodecTestSuite))
}

func (suite *CodecTestSuite) TestRoundTrip() {
	event := types.BreakoutEvent{
		Symbol:      "BTCUSDT",
		Direction:   types.DirectionUp,
		ClosePrice:  65123.45,
		OpenPrice:   65000.00,
		BarTime:     time.Date(2025, 6, 2, 14, 35, 0, 0, time.UTC),
		CandleSize:  123.45,
		Volume:      1500,
		BarStrength: 0.82,
	}

	data, err := Encode("breakout-signals", event)
	suite.Require().NoError(err)

	env, err := Decode(data)
	suite.Require().NoError(err)

	suite.Equal("breakout-signals", env.Queue)
	suite.Equal(event.Symbol, env.Event.Symbol)
	suite.Equal(event.Direction, env.Event.Direction)
	suite.Equal(event.ClosePrice, env.Event.ClosePrice)
	suite.True(event.BarTime.Equal(env.Event.BarTime))
}

func (suite *CodecTestSuite) TestDecodeRejectsMalformedPayload() {
	_, err := Decode([]byte("{not json"))
	suite.Error(err)
}

func (suite *CodecTestSuite) TestDecodeRejectsInvalidEvent() {
	// Missing direction and close price.
	_, err := Decode([]byte(`{"queue":"q","event":{"symbol":"BTCUSDT"}}`))
	suite.Error(err)
}
