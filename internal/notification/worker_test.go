package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"air-quality-backend/internal/model"
)

// mockSender is a mock implementation of the NotificationSender interface.
type mockSender struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

var testDBSeq atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:workertest%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.SensorReading{}, &model.PushSubscription{}))
	return db
}

func pushResponse(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString("")),
	}
}

func TestWorkerPool_SendsReadingToSubscribers(t *testing.T) {
	db := newTestDB(t)
	wp := NewWorkerPool(1, db, &webpush.Options{})

	reading := model.SensorReading{PM1: 5.2, PM25: 18.7, PM10: 42.0}
	require.NoError(t, db.Create(&reading).Error)
	require.NoError(t, db.Create(&model.PushSubscription{
		Endpoint: "https://example.com/push",
		P256DH:   "test_p256dh",
		Auth:     "test_auth",
	}).Error)

	var wg sync.WaitGroup
	wg.Add(1)
	wp.sender = &mockSender{
		SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
			defer wg.Done()
			assert.Equal(t, "https://example.com/push", sub.Endpoint)
			assert.Equal(t, "test_p256dh", sub.Keys.P256dh)

			var got model.SensorReading
			require.NoError(t, json.Unmarshal(payload, &got))
			assert.Equal(t, 18.7, got.PM25)
			return pushResponse(http.StatusCreated), nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	wp.NotifyReading(reading)
	wg.Wait()
}

func TestWorkerPool_DeletesExpiredSubscription(t *testing.T) {
	db := newTestDB(t)
	wp := NewWorkerPool(1, db, &webpush.Options{})

	reading := model.SensorReading{PM25: 1}
	require.NoError(t, db.Create(&reading).Error)
	require.NoError(t, db.Create(&model.PushSubscription{
		Endpoint: "https://example.com/expired",
		P256DH:   "k",
		Auth:     "a",
	}).Error)

	var wg sync.WaitGroup
	wg.Add(1)
	wp.sender = &mockSender{
		SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
			defer wg.Done()
			return pushResponse(http.StatusGone), nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	wp.Dispatch(reading.ID)
	wg.Wait()

	// Deletion happens after the send returns; poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		var count int64
		require.NoError(t, db.Model(&model.PushSubscription{}).Count(&count).Error)
		if count == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expired subscription was not deleted")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWorkerPool_DispatchNeverBlocks(t *testing.T) {
	db := newTestDB(t)
	wp := NewWorkerPool(1, db, &webpush.Options{})
	// No workers started: the queue holds one job, the rest must drop.

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			wp.Dispatch(int64(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked the caller")
	}
	assert.Equal(t, 1, len(wp.jobs))
}

func TestWorkerPool_NoSubscribersIsANoop(t *testing.T) {
	db := newTestDB(t)
	wp := NewWorkerPool(1, db, &webpush.Options{})

	reading := model.SensorReading{PM25: 1}
	require.NoError(t, db.Create(&reading).Error)

	var calls atomic.Int64
	wp.sender = &mockSender{
		SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
			calls.Add(1)
			return pushResponse(http.StatusCreated), nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	wp.Dispatch(reading.ID)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(0), calls.Load())
}
