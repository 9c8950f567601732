package jobs

import (
	"context"
	"fmt"

	"github.com/dataferry/ferry/pkg/errdefs"
	"github.com/dataferry/ferry/pkg/log"
	"github.com/dataferry/ferry/pkg/scheduler"
	"github.com/dataferry/ferry/pkg/types"
)

// ConsumerConfigSource yields the consumer configuration.
// *mgmt.ConsumerConfigService satisfies it.
type ConsumerConfigSource interface {
	GetConfiguration(ctx context.Context) (*types.ConsumerConfig, error)
}

// DynamicConfigJob pulls the consumer configuration on every tick and
// reconciles the scheduler's job set against it. All topic-stream and
// file-exchange jobs in the catalogue are created and removed through
// this job, never directly.
type DynamicConfigJob struct {
	configs ConsumerConfigSource
	sched   *scheduler.Scheduler
	topics  scheduler.Job
	files   scheduler.Job
}

func NewDynamicConfigJob(configs ConsumerConfigSource, sched *scheduler.Scheduler, topics, files scheduler.Job) *DynamicConfigJob {
	return &DynamicConfigJob{configs: configs, sched: sched, topics: topics, files: files}
}

func (j *DynamicConfigJob) Name() string { return "dynamic-config" }

func (j *DynamicConfigJob) Run(ctx context.Context, params types.JobParams) error {
	nodeID := params.NodeID()
	logger := log.WithNode(nodeID)

	cfg, err := j.configs.GetConfiguration(ctx)
	if err != nil {
		return err
	}
	if cfg == nil {
		logger.Info().Msg("no consumer configuration available, nothing to reconcile")
		return nil
	}

	requests, err := j.deriveRequests(nodeID, cfg)
	if err != nil {
		return err
	}

	j.sched.ReloadRecurrentJobs(nodeID, requests)
	return nil
}

// deriveRequests translates the consumer configuration into scheduler
// requests, one per (producer, product) pair that survives validation.
func (j *DynamicConfigJob) deriveRequests(nodeID string, cfg *types.ConsumerConfig) ([]scheduler.Request, error) {
	logger := log.WithNode(nodeID)

	var requests []scheduler.Request
	for i := range cfg.Producers {
		producer := &cfg.Producers[i]
		if !producer.Valid() {
			logger.Warn().Str("producer", producer.Name).Msg("skipping invalid producer")
			continue
		}

		target := types.NewConnectionTarget(
			cfg.ClientID, cfg.ClientID,
			producer.Name, producer.Host,
			producer.Port, producer.TLS,
		)

		for pi := range producer.Products {
			product := &producer.Products[pi]
			if product.Topic == "" {
				logger.Warn().
					Str("producer", producer.Name).
					Str("product", product.Name).
					Msg("skipping product without topic")
				continue
			}

			conf, ok := product.FirstConfiguration()
			if !ok {
				logger.Warn().
					Str("producer", producer.Name).
					Str("product", product.Name).
					Msg("skipping product without configuration")
				continue
			}
			if len(product.Configurations) > 1 {
				logger.Warn().
					Str("product", product.Name).
					Int("configurations", len(product.Configurations)).
					Msg("product has multiple configurations, using the first")
			}

			params := types.JobParams{
				JobID:              types.CleanServerName(producer.Name) + "-" + product.Topic,
				JobName:            product.Name,
				ScheduleType:       conf.ScheduleType,
				ScheduleExpression: conf.ScheduleExpression,
				ManagementNodeID:   nodeID,
				Topic:              product.Topic,
				Target:             target,
			}

			var job scheduler.Job
			switch product.Type {
			case types.ProductTypeTopic:
				job = j.topics
			case types.ProductTypeFile:
				job = j.files
				params.SourcePath = product.Source
				params.DestinationPath = conf.Destination
			default:
				return nil, errdefs.Configuration(
					fmt.Sprintf("product %q has unknown type %q", product.Name, product.Type), nil)
			}

			requests = append(requests, scheduler.Request{Job: job, Params: params})
		}
	}
	return requests, nil
}
