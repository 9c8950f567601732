package jobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataferry/ferry/pkg/errdefs"
	"github.com/dataferry/ferry/pkg/scheduler"
	"github.com/dataferry/ferry/pkg/types"
)

type fakeConfigSource struct {
	cfg *types.ConsumerConfig
	err error
}

func (f *fakeConfigSource) GetConfiguration(ctx context.Context) (*types.ConsumerConfig, error) {
	return f.cfg, f.err
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func consumerConfig() *types.ConsumerConfig {
	return &types.ConsumerConfig{
		ClientID: "cliA",
		Producers: []types.ProducerDescriptor{
			{
				Name: "Orders (EU)",
				Host: "https://orders.example.com",
				Port: intPtr(4443),
				TLS:  boolPtr(true),
				Products: []types.ProductDescriptor{
					{
						Name:  "orders",
						Topic: "orders-v1",
						Type:  types.ProductTypeTopic,
						Configurations: []types.ProductConsumerDescriptor{
							{ScheduleType: types.ScheduleTypeInterval, ScheduleExpression: "PT5M"},
						},
					},
					{
						Name:   "exports",
						Topic:  "exports-v1",
						Type:   types.ProductTypeFile,
						Source: "/srv/exports",
						Configurations: []types.ProductConsumerDescriptor{
							{Destination: "/var/ferry/in", ScheduleType: types.ScheduleTypeInterval, ScheduleExpression: "PT1H"},
						},
					},
				},
			},
		},
	}
}

func newDynamicConfigJob(cfg *types.ConsumerConfig) (*DynamicConfigJob, *scheduler.Scheduler) {
	sched := scheduler.New(scheduler.WithBackground(false))
	sched.EnsureStarted()
	topics := &fakeJob{name: "topic-stream"}
	files := &fakeJob{name: "file-exchange"}
	return NewDynamicConfigJob(&fakeConfigSource{cfg: cfg}, sched, topics, files), sched
}

type fakeJob struct{ name string }

func (f *fakeJob) Name() string                                          { return f.name }
func (f *fakeJob) Run(ctx context.Context, params types.JobParams) error { return nil }

func TestDynamicConfigRegistersDerivedJobs(t *testing.T) {
	job, sched := newDynamicConfigJob(consumerConfig())

	require.NoError(t, job.Run(context.Background(), types.JobParams{ManagementNodeID: "node-1"}))

	snapshot := sched.Snapshot()
	require.Len(t, snapshot, 2)

	topicJob, ok := snapshot["OrdersEU-orders-v1"]
	require.True(t, ok, "job id is cleanServerName(producer)-topic")
	assert.Equal(t, "orders-v1", topicJob.Topic)
	assert.Equal(t, "node-1", topicJob.ManagementNodeID)
	assert.Equal(t, "orders.example.com", topicJob.Target.ServerHost)
	assert.Equal(t, 4443, topicJob.Target.ServerPort)
	assert.Equal(t, "OrdersEU", topicJob.Target.ServerName)
	assert.Equal(t, types.ScheduleTypeInterval, topicJob.ScheduleType)
	assert.Equal(t, "PT5M", topicJob.ScheduleExpression)

	fileJob, ok := snapshot["OrdersEU-exports-v1"]
	require.True(t, ok)
	assert.Equal(t, "/srv/exports", fileJob.SourcePath)
	assert.Equal(t, "/var/ferry/in", fileJob.DestinationPath)
}

func TestDynamicConfigFallsBackToDefaultNode(t *testing.T) {
	job, sched := newDynamicConfigJob(consumerConfig())

	require.NoError(t, job.Run(context.Background(), types.JobParams{}))

	for _, params := range sched.Snapshot() {
		assert.Equal(t, types.DefaultManagementNodeID, params.ManagementNodeID)
	}
}

func TestDynamicConfigSkipsInvalidProducers(t *testing.T) {
	cfg := consumerConfig()
	cfg.Producers = append(cfg.Producers,
		types.ProducerDescriptor{Name: "", Host: "nohost.example.com", Products: cfg.Producers[0].Products},
		types.ProducerDescriptor{Name: "NoProducts", Host: "x.example.com"},
	)

	job, sched := newDynamicConfigJob(cfg)
	require.NoError(t, job.Run(context.Background(), types.JobParams{ManagementNodeID: "node-1"}))

	assert.Len(t, sched.Snapshot(), 2, "invalid producers contribute no jobs")
}

func TestDynamicConfigSkipsProductsWithoutTopic(t *testing.T) {
	cfg := consumerConfig()
	cfg.Producers[0].Products = append(cfg.Producers[0].Products, types.ProductDescriptor{
		Name: "topicless",
		Type: types.ProductTypeTopic,
	})

	job, sched := newDynamicConfigJob(cfg)
	require.NoError(t, job.Run(context.Background(), types.JobParams{ManagementNodeID: "node-1"}))

	assert.Len(t, sched.Snapshot(), 2)
}

func TestDynamicConfigUnknownProductType(t *testing.T) {
	cfg := consumerConfig()
	cfg.Producers[0].Products[0].Type = "stream"

	job, sched := newDynamicConfigJob(cfg)
	err := job.Run(context.Background(), types.JobParams{ManagementNodeID: "node-1"})

	require.Error(t, err)
	assert.True(t, errdefs.IsConfiguration(err))
	assert.Empty(t, sched.Snapshot(), "a bad product type aborts the reconcile")
}

func TestDynamicConfigRemovesDroppedJobs(t *testing.T) {
	cfg := consumerConfig()
	source := &fakeConfigSource{cfg: cfg}
	sched := scheduler.New(scheduler.WithBackground(false))
	sched.EnsureStarted()
	job := NewDynamicConfigJob(source, sched, &fakeJob{name: "topic-stream"}, &fakeJob{name: "file-exchange"})

	require.NoError(t, job.Run(context.Background(), types.JobParams{ManagementNodeID: "node-1"}))
	require.Len(t, sched.Snapshot(), 2)

	// The file product disappears from the next configuration
	trimmed := consumerConfig()
	trimmed.Producers[0].Products = trimmed.Producers[0].Products[:1]
	source.cfg = trimmed

	require.NoError(t, job.Run(context.Background(), types.JobParams{ManagementNodeID: "node-1"}))

	snapshot := sched.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Contains(t, snapshot, "OrdersEU-orders-v1")
}

func TestDynamicConfigNilConfiguration(t *testing.T) {
	job, sched := newDynamicConfigJob(nil)

	require.NoError(t, job.Run(context.Background(), types.JobParams{ManagementNodeID: "node-1"}))
	assert.Empty(t, sched.Snapshot())
}
