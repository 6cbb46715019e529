package kucoin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewStreamClient_StoresBackoffPolicy(t *testing.T) {
	opts := &WSConnOpts{Token: "tok"}
	opts.Servers = append(opts.Servers, struct {
		Endpoint     string `json:"endpoint"`
		Encrypt      bool   `json:"encrypt"`
		Protocol     string `json:"protocol"`
		PingInterval int    `json:"pingInterval"`
		PingTimeout  int    `json:"pingTimeout"`
	}{Endpoint: "wss://ws.kucoin.com/endpoint"})

	c := NewStreamClient(opts, time.Second, 8*time.Second)

	assert.Equal(t, time.Second, c.minBackoff)
	assert.Equal(t, 8*time.Second, c.maxBackoff)
	assert.Equal(t, opts.Endpoint(), c.endpoint)
}

func TestNewStreamClient_ZeroBackoffIsAllowed(t *testing.T) {
	opts := &WSConnOpts{}
	c := NewStreamClient(opts, 0, 0)

	assert.Zero(t, c.minBackoff)
	assert.Zero(t, c.maxBackoff)
}

func TestStreamClient_NotifyResetIsNonBlocking(t *testing.T) {
	c := NewStreamClient(&WSConnOpts{}, 0, 0)

	c.notifyReset()
	c.notifyReset()

	select {
	case <-c.Resets():
	default:
		t.Fatal("expected a buffered reset signal")
	}
}

func TestStreamClient_ResubscribeAllNoSubscriptionsIsNoop(t *testing.T) {
	c := NewStreamClient(&WSConnOpts{}, 0, 0)

	c.resubscribeAll()
}
