//go:build integration

package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"logrca/features/ingest"
	"logrca/internal/config"
	"logrca/internal/testutils"
	"logrca/internal/worker"
)

func TestIndexTopicRouting(t *testing.T) {
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	svc := ingest.NewService(nil, nil, "", ingest.WithPublisher(s.NSQ))

	done := make(chan struct{})
	idx := new(MockIndexer)
	idx.On("IndexPath", mock.Anything, "/srv/app").Return(4, nil).Run(func(mock.Arguments) { close(done) })

	consumer, err := nsq.NewConsumer(config.TopicIndexPath, config.ChannelIndexWorker, nsq.NewConfig())
	require.NoError(t, err)
	consumer.AddHandler(worker.NewIndexConsumer(idx, time.Minute))
	require.NoError(t, consumer.ConnectToNSQD(s.GetAppConfig().NSQDHost))
	defer consumer.Stop()

	_, err = svc.Enqueue(context.Background(), "/srv/app", "req-int")
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for index task")
	}
	idx.AssertExpectations(t)
}
