package magio

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func channelStubHandler(channelCalls *atomic.Int32) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/home/categories", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"categories":[
			{"name":"News","channels":[{"channelId":1}]},
			{"name":"Sports","channels":[{"channelId":2},{"channelId":3}]}
		]}`))
	})

	mux.HandleFunc("/v2/television/channels", func(w http.ResponseWriter, r *http.Request) {
		if channelCalls != nil {
			channelCalls.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"items":[
			{"channel":{"channelId":1,"name":"CT 1 HD","originalName":"CT 1","logoUrl":"https://logos/ct1.png","hasArchive":true}},
			{"channel":{"channelId":2,"name":"Nova Sport","originalName":"Nova Sport","logoUrl":"","hasArchive":false}},
			{"channel":{"channelId":4,"name":"Prima","originalName":"Prima","logoUrl":"","hasArchive":true}}
		]}`))
	})

	return mux
}

func TestChannels(t *testing.T) {
	client, _ := newTestClient(t, channelStubHandler(nil))

	channels, err := client.Channels(context.Background())
	assert.Nil(t, err)
	assert.Len(t, channels, 3)

	assert.Equal(t, Channel{
		ID:           1,
		Name:         "CT 1 HD",
		OriginalName: "CT 1",
		Logo:         "https://logos/ct1.png",
		Group:        "News",
		HasArchive:   true,
	}, channels[0])
	assert.Equal(t, "Sports", channels[1].Group)
	// channel 4 is in no category and falls back to Other
	assert.Equal(t, "Other", channels[2].Group)
}

func TestChannelsCached(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, channelStubHandler(&calls))

	_, err := client.Channels(context.Background())
	assert.Nil(t, err)
	_, err = client.Channels(context.Background())
	assert.Nil(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestChannelByID(t *testing.T) {
	client, _ := newTestClient(t, channelStubHandler(nil))

	ch, err := client.ChannelByID(context.Background(), 2)
	assert.Nil(t, err)
	assert.NotNil(t, ch)
	assert.Equal(t, "Nova Sport", ch.Name)

	ch, err = client.ChannelByID(context.Background(), 999)
	assert.Nil(t, err)
	assert.Nil(t, ch)
}

func TestChannelGroups(t *testing.T) {
	client, _ := newTestClient(t, channelStubHandler(nil))

	groups, err := client.ChannelGroups(context.Background())
	assert.Nil(t, err)
	assert.Equal(t, []string{"News", "Other", "Sports"}, groups)
}

func TestChannelsByGroup(t *testing.T) {
	client, _ := newTestClient(t, channelStubHandler(nil))

	channels, err := client.ChannelsByGroup(context.Background(), "sports")
	assert.Nil(t, err)
	assert.Len(t, channels, 1)
	assert.Equal(t, 2, channels[0].ID)

	channels, err = client.ChannelsByGroup(context.Background(), "Movies")
	assert.Nil(t, err)
	assert.Len(t, channels, 0)
}

func TestSearchChannels(t *testing.T) {
	client, _ := newTestClient(t, channelStubHandler(nil))

	results, err := client.SearchChannels(context.Background(), "nova")
	assert.Nil(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, "Nova Sport", results[0].Name)

	results, err = client.SearchChannels(context.Background(), "")
	assert.Nil(t, err)
	assert.Nil(t, results)
}

func TestClearChannelCache(t *testing.T) {
	var calls atomic.Int32
	client, c := newTestClient(t, channelStubHandler(&calls))

	_, err := client.Channels(context.Background())
	assert.Nil(t, err)
	_, err = client.ChannelByID(context.Background(), 1)
	assert.Nil(t, err)
	assert.True(t, c.Len() >= 2)

	client.ClearChannelCache()

	_, err = client.Channels(context.Background())
	assert.Nil(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestChannelsUpstreamRejection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/television/channels", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":false,"errorMessage":"device limit reached"}`))
	})
	client, _ := newTestClient(t, mux)

	_, err := client.Channels(context.Background())
	assert.ErrorContains(t, err, "device limit reached")
}
