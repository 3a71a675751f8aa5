// Command pullconsumer is a thin example wiring internal/client.ClientFactory
// into a caller-driven consumer.PullConsumer: fetch queues, track offsets
// locally, pull in a loop until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/twmb/rocketmq-go/config"
	"github.com/twmb/rocketmq-go/consumer"
	"github.com/twmb/rocketmq-go/internal/client"
	"github.com/twmb/rocketmq-go/internal/remote"
	"github.com/twmb/rocketmq-go/primitive"
	"github.com/twmb/rocketmq-go/rlog"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	topic := flag.String("topic", "TopicTest", "topic to pull from")
	tag := flag.String("tag", primitive.SubExprAll, "tag expression")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	log := rlog.New(os.Stderr, rlog.LevelInfo)

	var resolver remote.Resolver
	if cfg.NameServer.Addrs != "" {
		resolver = remote.NewStaticResolver(cfg.NameServer.Addrs)
	} else {
		resolver = remote.NewDomainResolver(cfg.NameServer.DomainURL)
	}
	factory := client.NewClientFactory(cfg.Client.InstanceName, resolver, log)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	if err := factory.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "start client factory:", err)
		os.Exit(1)
	}
	defer factory.Shutdown()

	pc := consumer.NewPullConsumer(cfg.Consumer.Group, factory, consumer.WithLogger(log))
	if err := pc.Subscribe(*topic, *tag); err != nil {
		fmt.Fprintln(os.Stderr, "subscribe:", err)
		os.Exit(1)
	}

	mqs, err := pc.FetchMessageQueues(ctx, *topic)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fetch message queues:", err)
		os.Exit(1)
	}

	// offsets is this caller's own offset table; the pull consumer never
	// tracks or advances it on the caller's behalf.
	var mu sync.Mutex
	offsets := make(map[primitive.MessageQueue]int64, len(mqs))
	for _, mq := range mqs {
		offset, err := pc.ComputePullFromWhere(ctx, mq)
		if err != nil {
			fmt.Fprintln(os.Stderr, "compute initial offset:", err)
			os.Exit(1)
		}
		offsets[mq] = offset
	}

	var wg sync.WaitGroup
	for _, mq := range mqs {
		wg.Add(1)
		go func(mq primitive.MessageQueue) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				mu.Lock()
				offset := offsets[mq]
				mu.Unlock()

				result, err := pc.Pull(ctx, mq, offset, 32)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					fmt.Fprintln(os.Stderr, "pull:", mq.String(), err)
					continue
				}
				for _, m := range result.Messages {
					fmt.Printf("received msgId=%s mq=%s offset=%d body=%s\n", m.MsgId, mq.String(), m.QueueOffset, string(m.Body))
				}

				mu.Lock()
				offsets[mq] = result.NextBeginOffset
				mu.Unlock()
				pc.UpdateConsumeOffset(ctx, mq, result.NextBeginOffset)
			}
		}(mq)
	}
	wg.Wait()
}
