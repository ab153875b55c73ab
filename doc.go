// Package meshnet 提供去中心化覆盖网络节点
//
// 节点之间通过签名信封通信，支持点对点消息（可加密）、主题广播、
// 基于 XOR 距离的路由表与值存储，以及简单的法定人数共识。
//
// # 快速开始
//
//	node, err := meshnet.Start(ctx,
//	    meshnet.WithListenAddress("0.0.0.0:4100"),
//	    meshnet.WithBootstrapPeers("10.0.0.1:4100"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Stop(context.Background())
//
//	node.Subscribe("alerts", func(msg *meshnet.GossipMessage) {
//	    fmt.Printf("%s: %s\n", msg.Origin.ID.ShortString(), msg.Payload)
//	})
//	node.Broadcast(ctx, "alerts", []byte("fire"))
//
// # 组件
//
//	┌────────────────────────────────────────────────────┐
//	│  Node（本包）                 meshnet.New / Start    │
//	├────────────────────────────────────────────────────┤
//	│  overlay.Node     生命周期、后台循环、入站分发         │
//	├──────────────┬──────────────┬──────────────────────┤
//	│  dht         │  pubsub      │  consensus           │
//	│  路由表/记录  │  主题广播     │  提案/投票/提交        │
//	├──────────────┴──────────────┴──────────────────────┤
//	│  transport (websocket / memory)   wire   identity   │
//	└────────────────────────────────────────────────────┘
//
// 组件通过 go.uber.org/fx 组装，生命周期由 fx.App 驱动。
package meshnet
