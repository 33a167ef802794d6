package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resv_relay/internal/config"
	"resv_relay/internal/model"
	"resv_relay/internal/protocol/reservation"
	"resv_relay/internal/repository/archive"
	"resv_relay/internal/repository/identity"
	"resv_relay/internal/service/node"
	redisSvc "resv_relay/internal/service/redis"
	"resv_relay/internal/service/relay"
	"resv_relay/internal/service/server"
	"resv_relay/internal/utils/log"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	defer log.Sync()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal("load config failed", zap.Error(err))
	}
	if err := log.SetLevel(cfg.LogLevel); err != nil {
		log.Fatal("bad log level", zap.Error(err))
	}

	ctx := context.Background()

	mongoDBClient, err := initMongo(cfg.MongoURI)
	if err != nil {
		log.Fatal("connect mongo failed", zap.Error(err))
	}
	defer mongoDBClient.Disconnect(ctx)

	keys := identity.NewIdentityRepo(mongoDBClient.Database(cfg.MongoDB)).KeyStore("merchant")
	priv, err := keys.LoadOrCreate(ctx)
	if err != nil {
		log.Fatal("load merchant key failed", zap.Error(err))
	}

	redis, err := redisSvc.Dial(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatal("connect redis failed", zap.Error(err))
	}
	defer redis.Close()

	arch, err := archive.New(redis, priv, reservation.NewCodec(cfg.Schema))
	if err != nil {
		log.Fatal("open archive failed", zap.Error(err))
	}

	pool := relay.NewPool(cfg.Relays, nil)
	defer pool.Close()

	n, err := node.New(node.Options{
		PrivateKey: priv,
		Network:    node.PoolNetwork{Pool: pool},
		Archive:    arch,
		Schema:     cfg.Schema,
	})
	if err != nil {
		log.Fatal("create node failed", zap.Error(err))
	}
	if err := n.Start(ctx); err != nil {
		log.Fatal("start node failed", zap.Error(err))
	}
	defer n.Stop()
	if cfg.ProfileName != "" {
		if err := n.Announce(ctx, &model.Profile{Name: cfg.ProfileName, DisplayName: cfg.ProfileName}); err != nil {
			log.Warn("announce profile failed", zap.Error(err))
		}
	}
	log.Info("merchant online", zap.String("pubkey", n.PublicKey()), zap.Strings("relays", cfg.Relays))

	c := server.NewHttpServer(n, cfg.HTTPAddr)
	go func() {
		if err := c.Run(); err != nil {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	<-done

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Shutdown(sctx); err != nil {
		log.Error("http shutdown failed", zap.Error(err))
	}
}

func initMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
