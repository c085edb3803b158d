package controller

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownStreamWaitsForProducersBeforeClosing(t *testing.T) {
	// Unbuffered so the producer blocks mid-send while shutdown runs.
	send := make(chan ServerMessage)
	_, cancel := context.WithCancel(context.Background())

	var producers, writers sync.WaitGroup
	var delivered atomic.Int32

	producers.Add(1)
	go func() {
		defer producers.Done()
		time.Sleep(20 * time.Millisecond)
		send <- ServerMessage{Type: "job.event"}
	}()

	writers.Add(1)
	go func() {
		defer writers.Done()
		for range send {
			delivered.Add(1)
		}
	}()

	require.NotPanics(t, func() {
		shutdownStream(cancel, &producers, send, &writers)
	})
	assert.Equal(t, int32(1), delivered.Load())
}
