package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regimelab/regimecast/internal/model"
)

func sampleCandle() model.Candle {
	return model.Candle{
		EventType: model.EventCandleClose,
		Symbol:    "BTC-USD",
		Exchange:  "BINANCE",
		Timestamp: time.Date(2023, 10, 27, 12, 0, 0, 0, time.UTC),
		Open:      34000, High: 34100, Low: 33900, Close: 34050,
		Volume:    105.5,
		Timeframe: "1h",
	}
}

func TestEncodeDecodeFlatFields(t *testing.T) {
	c := sampleCandle()
	values := EncodeCandle(c)

	assert.Equal(t, "candle_close", values["event_type"])
	assert.Equal(t, "BTC-USD", values["symbol"])
	assert.Equal(t, "2023-10-27T12:00:00Z", values["timestamp"])
	assert.Equal(t, "34000", values["open"])
	assert.Equal(t, "105.5", values["volume"])

	// Redis hands string values back; mimic that.
	raw := make(map[string]interface{}, len(values))
	for k, v := range values {
		raw[k] = v.(string)
	}

	back, err := DecodeCandle(raw)
	require.NoError(t, err)
	assert.Equal(t, c, back)
}

func TestDecodePayloadForm(t *testing.T) {
	c := sampleCandle()
	body, err := json.Marshal(c)
	require.NoError(t, err)

	back, err := DecodeCandle(map[string]interface{}{"payload": string(body)})
	require.NoError(t, err)
	assert.Equal(t, c.Symbol, back.Symbol)
	assert.True(t, c.Timestamp.Equal(back.Timestamp))
	assert.Equal(t, c.Close, back.Close)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeCandle(map[string]interface{}{"payload": "{not json"})
	assert.Error(t, err)

	_, err = DecodeCandle(map[string]interface{}{"event_type": "candle_close"})
	assert.Error(t, err)

	_, err = DecodeCandle(map[string]interface{}{
		"symbol": "BTC-USD", "timestamp": "yesterday",
	})
	assert.Error(t, err)
}

// matchXAddFields compares XADD commands with the field-value tail as a
// set: go-redis flattens the Values map in iteration order, so a
// positional comparison of the pairs is nondeterministic.
func matchXAddFields(expected, actual []interface{}) error {
	split := func(args []interface{}) ([]interface{}, map[string]string, error) {
		for i, a := range args {
			if fmt.Sprint(a) != "*" {
				continue
			}
			fields := make(map[string]string)
			rest := args[i+1:]
			if len(rest)%2 != 0 {
				return nil, nil, fmt.Errorf("odd field-value tail: %v", rest)
			}
			for j := 0; j < len(rest); j += 2 {
				fields[fmt.Sprint(rest[j])] = fmt.Sprint(rest[j+1])
			}
			return args[:i+1], fields, nil
		}
		return nil, nil, fmt.Errorf("no auto-id marker in %v", args)
	}

	wantHead, wantFields, err := split(expected)
	if err != nil {
		return err
	}
	gotHead, gotFields, err := split(actual)
	if err != nil {
		return err
	}
	if fmt.Sprint(wantHead) != fmt.Sprint(gotHead) {
		return fmt.Errorf("command head mismatch: want %v, got %v", wantHead, gotHead)
	}
	if !reflect.DeepEqual(wantFields, gotFields) {
		return fmt.Errorf("field mismatch: want %v, got %v", wantFields, gotFields)
	}
	return nil
}

func TestPublisherTrimsApprox(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := sampleCandle()

	mock.CustomMatch(matchXAddFields).ExpectXAdd(&goredis.XAddArgs{
		Stream: "market_data_feed",
		MaxLen: 10000,
		Approx: true,
		Values: EncodeCandle(c),
	}).SetVal("1698400800000-0")

	pub := NewPublisher(client, "market_data_feed", 10000)
	require.NoError(t, pub.Publish(context.Background(), c))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumerEnsureGroupIgnoresBusyGroup(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cons := NewConsumer(client, "market_data_feed", "quant_group", "worker-1")

	mock.ExpectXGroupCreateMkStream("market_data_feed", "quant_group", "0").
		SetErr(errors.New("BUSYGROUP Consumer Group name already exists"))

	assert.NoError(t, cons.EnsureGroup(context.Background()))
}

func TestConsumerReadAndAck(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cons := NewConsumer(client, "market_data_feed", "quant_group", "worker-1")

	values := map[string]interface{}{"symbol": "BTC-USD"}
	mock.ExpectXReadGroup(&goredis.XReadGroupArgs{
		Group:    "quant_group",
		Consumer: "worker-1",
		Streams:  []string{"market_data_feed", ">"},
		Count:    1,
		Block:    time.Second,
	}).SetVal([]goredis.XStream{{
		Stream:   "market_data_feed",
		Messages: []goredis.XMessage{{ID: "1-0", Values: values}},
	}})

	msgs, err := cons.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "1-0", msgs[0].ID)

	mock.ExpectXAck("market_data_feed", "quant_group", "1-0").SetVal(1)
	assert.NoError(t, cons.Ack(context.Background(), "1-0"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumerReadTimeoutIsEmpty(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cons := NewConsumer(client, "market_data_feed", "quant_group", "worker-1")

	mock.ExpectXReadGroup(&goredis.XReadGroupArgs{
		Group:    "quant_group",
		Consumer: "worker-1",
		Streams:  []string{"market_data_feed", ">"},
		Count:    1,
		Block:    time.Second,
	}).RedisNil()

	msgs, err := cons.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
