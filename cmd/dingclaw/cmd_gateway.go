// DingClaw - DingTalk Stream channel gateway
// License: MIT

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zhaopengme/dingclaw/pkg/bus"
	"github.com/zhaopengme/dingclaw/pkg/channels"
	"github.com/zhaopengme/dingclaw/pkg/gateway"
	"github.com/zhaopengme/dingclaw/pkg/logger"
	"github.com/zhaopengme/dingclaw/pkg/routing"
	"github.com/zhaopengme/dingclaw/pkg/session"
)

func gatewayCmd() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if cfg.Channels.DingTalk.Debug {
		logger.SetLevel(logger.DEBUG)
	}

	broker := bus.NewMessageBus()
	defer broker.Close()

	sessions := session.NewSessionManager(cfg.SessionsPath())
	resolver := routing.NewRouteResolver(cfg)

	manager, err := channels.NewManager(cfg, broker, resolver, sessions)
	if err != nil {
		fmt.Printf("Error building channels: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		cancel()
	}()

	if err := manager.StartAll(ctx); err != nil {
		fmt.Printf("Error starting channels: %v\n", err)
		os.Exit(1)
	}
	defer manager.StopAll(context.Background())

	gw := gateway.New(broker, manager, sessions, echoResponder())

	rpc := gateway.NewRPCServer(cfg.Gateway.Host, cfg.Gateway.Port, manager)
	go func() {
		if err := rpc.Start(ctx); err != nil {
			logger.ErrorCF("gateway", "RPC server failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	fmt.Printf("%s dingclaw gateway running. Ctrl+C to stop.\n", logo)
	if err := gw.Run(ctx); err != nil {
		fmt.Printf("Gateway error: %v\n", err)
		os.Exit(1)
	}
}

// echoResponder is the built-in fallback responder: it acknowledges the
// message and reflects the text back. Hosts embedding this gateway
// replace it with their own dispatch.
func echoResponder() gateway.Responder {
	return func(ctx context.Context, msg bus.InboundMessage) ([]bus.OutboundMessage, error) {
		return []bus.OutboundMessage{{
			Content: msg.Body,
		}}, nil
	}
}
