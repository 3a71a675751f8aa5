// Command producer is a thin example wiring internal/client.ClientFactory
// into producer.Producer: send one message from the command line and exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/twmb/rocketmq-go/config"
	"github.com/twmb/rocketmq-go/internal/client"
	"github.com/twmb/rocketmq-go/internal/remote"
	"github.com/twmb/rocketmq-go/primitive"
	"github.com/twmb/rocketmq-go/producer"
	"github.com/twmb/rocketmq-go/rlog"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	topic := flag.String("topic", "TopicTest", "topic to send to")
	tag := flag.String("tag", "", "message tag")
	body := flag.String("body", "hello", "message body")
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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := factory.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "start client factory:", err)
		os.Exit(1)
	}
	defer factory.Shutdown()

	pcfg := producer.DefaultConfig()
	if cfg.Producer.RetryTimes > 0 {
		pcfg.RetryTimes = cfg.Producer.RetryTimes
	}
	if cfg.Producer.SendMsgTimeout > 0 {
		pcfg.SendMsgTimeout = cfg.Producer.SendMsgTimeout
	}
	p := producer.NewProducer(cfg.Producer.Group, factory, pcfg, log)

	msg := &primitive.Message{
		Topic: *topic,
		Body:  []byte(*body),
		Tags:  *tag,
	}
	result, err := p.Send(ctx, msg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "send:", err)
		os.Exit(1)
	}
	fmt.Printf("sent msgId=%s mq=%s offset=%d\n", result.MsgId, result.MessageQueue.String(), result.QueueOffset)
}
