package consumer

import "github.com/twmb/rocketmq-go/rlog"

// options holds every field a PushConsumer or PullConsumer can be
// configured with. Mirrors the functional-options shape of
// consumerOptions/Option in the Apache client: a struct of defaults plus a
// chain of Option closures applied in NewPushConsumer/NewPullConsumer.
type options struct {
	NameServerAddrs []string
	InstanceName    string

	Model       MessageModel
	ConsumeType ConsumeType
	Strategy    AllocateMQStrategy
	FromWhere   ConsumeFromWhere
	FromTimestamp int64

	Scheduler  SchedulerConfig
	Concurrent ConcurrentConsumeConfig
	Orderly    OrderlyConsumeConfig

	UseRemoteOffsetStore bool

	Log rlog.Logger
}

func defaultOptions() options {
	return options{
		Model:       Clustering,
		ConsumeType: ConsumeConcurrently,
		Strategy:    AllocateByAveragely{},
		FromWhere:   ConsumeFromLastOffset,
		Scheduler:   DefaultSchedulerConfig(),
		Concurrent:  DefaultConcurrentConsumeConfig(),
		Orderly:     DefaultOrderlyConsumeConfig(),
	}
}

// Option configures a PushConsumer or PullConsumer at construction time.
type Option func(*options)

func WithNameServer(addrs []string) Option {
	return func(o *options) {
		if len(addrs) > 0 {
			o.NameServerAddrs = addrs
		}
	}
}

func WithInstanceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.InstanceName = name
		}
	}
}

func WithConsumerModel(m MessageModel) Option {
	return func(o *options) { o.Model = m }
}

// WithOrderly switches this consumer to sequential (per-queue-exclusive)
// consumption. Default is concurrent.
func WithOrderly() Option {
	return func(o *options) { o.ConsumeType = ConsumeOrderly }
}

func WithAllocateStrategy(s AllocateMQStrategy) Option {
	return func(o *options) {
		if s != nil {
			o.Strategy = s
		}
	}
}

func WithConsumeFromWhere(w ConsumeFromWhere) Option {
	return func(o *options) { o.FromWhere = w }
}

func WithConsumeFromTimestamp(unixNano int64) Option {
	return func(o *options) {
		o.FromWhere = ConsumeFromTimestamp
		o.FromTimestamp = unixNano
	}
}

func WithSchedulerConfig(cfg SchedulerConfig) Option {
	return func(o *options) { o.Scheduler = cfg }
}

func WithConcurrentConfig(cfg ConcurrentConsumeConfig) Option {
	return func(o *options) { o.Concurrent = cfg }
}

func WithOrderlyConfig(cfg OrderlyConsumeConfig) Option {
	return func(o *options) { o.Orderly = cfg }
}

// WithRemoteOffsetStore switches offset persistence to the broker
// (QUERY/UPDATE_CONSUMER_OFFSET) instead of the default local file store.
// Broadcasting consumers use the broker store whether or not this option
// is given; only Clustering consumers default to the local file store.
func WithRemoteOffsetStore() Option {
	return func(o *options) { o.UseRemoteOffsetStore = true }
}

func WithLogger(log rlog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.Log = log
		}
	}
}
