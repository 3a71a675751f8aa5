// Command pushconsumer is a thin example wiring internal/client.ClientFactory
// into a callback-driven consumer.PushConsumer: subscribe, register a
// listener that prints each message, run until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/twmb/rocketmq-go/config"
	"github.com/twmb/rocketmq-go/consumer"
	"github.com/twmb/rocketmq-go/internal/client"
	"github.com/twmb/rocketmq-go/internal/remote"
	"github.com/twmb/rocketmq-go/primitive"
	"github.com/twmb/rocketmq-go/rlog"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	topic := flag.String("topic", "TopicTest", "topic to subscribe to")
	tag := flag.String("tag", primitive.SubExprAll, "tag expression")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	level := rlog.LevelInfo
	if cfg.Log.Level == "debug" {
		level = rlog.LevelDebug
	}
	log := rlog.New(os.Stderr, level)

	resolver := newResolver(cfg)
	factory := client.NewClientFactory(cfg.Client.InstanceName, resolver, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := factory.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "start client factory:", err)
		os.Exit(1)
	}
	defer factory.Shutdown()

	pc := consumer.NewPushConsumer(cfg.Consumer.Group, factory.ClientID, factory,
		consumer.WithLogger(log),
		consumer.WithRemoteOffsetStore(),
	)
	if err := pc.Subscribe(*topic, *tag); err != nil {
		fmt.Fprintln(os.Stderr, "subscribe:", err)
		os.Exit(1)
	}
	pc.RegisterMessageListener(func(msgs []*consumer.MessageView) consumer.ConsumeResult {
		for _, m := range msgs {
			fmt.Printf("received msgId=%s topic=%s tags=%s body=%s\n", m.MsgId, m.Topic, m.Tags, string(m.Body))
		}
		return consumer.ConsumeSuccess
	})

	if err := pc.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "start push consumer:", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	pc.Shutdown(shutdownCtx)
}

func newResolver(cfg *config.ClientConfig) remote.Resolver {
	if cfg.NameServer.Addrs != "" {
		return remote.NewStaticResolver(cfg.NameServer.Addrs)
	}
	return remote.NewDomainResolver(cfg.NameServer.DomainURL)
}
