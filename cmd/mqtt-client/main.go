package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/golang-io/mqttcore"
	"github.com/golang-io/mqttcore/packet"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := mqtt.NewClientConfig("ws://127.0.0.1:1883/mqtt", mqtt.WithClientID("mqtt-client-demo"))
	c := mqtt.NewClient(cfg)
	c.OnMessageArrived = func(msg *mqtt.ApplicationMessage) {
		log.Printf("on: topic=%s payload=%s", msg.DestinationName, msg.Payload)
	}
	c.OnConnectionLost = func(err *mqtt.Error) {
		log.Printf("connection lost: %v", err)
	}

	connected := make(chan struct{})
	opts := mqtt.DefaultConnectOptions()
	opts.Reconnect = true
	opts.OnSuccess = func() {
		if err := c.Subscribe(
			[]packet.Subscription{{TopicFilter: "+"}, {TopicFilter: "a/b/c"}},
			10*time.Second,
			func(codes []packet.SubscribeReturnCode) { log.Printf("subscribed: %v", codes) },
			func(err *mqtt.Error) { log.Printf("subscribe failed: %v", err) },
		); err != nil {
			log.Printf("subscribe: %v", err)
		}
		close(connected)
	}
	opts.OnFailure = func(err *mqtt.Error) {
		log.Fatalf("connect failed: %v", err)
	}

	if err := c.Connect(opts); err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	var group errgroup.Group
	stop := make(chan struct{})

	group.Go(func() error {
		<-connected
		for {
			select {
			case <-stop:
				return nil
			default:
			}
			err := c.Publish(mqtt.ApplicationMessage{
				DestinationName: "12345",
				Payload:         []byte(time.Now().Format("2006-01-02 15:04:05")),
			})
			if err != nil {
				log.Printf("publish: %v", err)
			}
			time.Sleep(time.Second)
		}
	})

	group.Go(func() error {
		defer close(stop)
		sign := make(chan os.Signal, 1)
		signal.Notify(sign, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sign
		return fmt.Errorf("got sign: %s", sig)
	})

	if err := group.Wait(); err != nil {
		log.Printf("%v", err)
	}
}
