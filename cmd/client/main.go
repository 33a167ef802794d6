package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resv_relay/internal/config"
	"resv_relay/internal/cryptographic/dh"
	"resv_relay/internal/protocol/reservation"
	"resv_relay/internal/repository/archive"
	"resv_relay/internal/repository/identity"
	"resv_relay/internal/service/app"
	"resv_relay/internal/service/node"
	redisSvc "resv_relay/internal/service/redis"
	"resv_relay/internal/service/relay"
	"resv_relay/internal/utils/log"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: client <name> <merchant-pubkey>")
		os.Exit(2)
	}
	name, merchant := os.Args[1], os.Args[2]
	if _, err := dh.ParsePublicKeyHex(merchant); err != nil {
		fmt.Fprintln(os.Stderr, "invalid merchant pubkey:", err)
		os.Exit(2)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	// the terminal belongs to the UI, so logs go to a file
	if err := logToFile(name+".log", cfg.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, "open log file:", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mongoDBClient, err := initMongo(cfg.MongoURI)
	if err != nil {
		log.Fatal("connect mongo failed", zap.Error(err))
	}
	defer mongoDBClient.Disconnect(context.Background())

	keys := identity.NewIdentityRepo(mongoDBClient.Database(cfg.MongoDB)).KeyStore(name)
	priv, err := keys.LoadOrCreate(ctx)
	if err != nil {
		log.Fatal("load agent key failed", zap.Error(err))
	}

	opts := node.Options{PrivateKey: priv, Schema: cfg.Schema}
	if redis, err := redisSvc.Dial(ctx, cfg.RedisAddr); err != nil {
		log.Warn("redis unavailable, running without archive", zap.Error(err))
	} else {
		defer redis.Close()
		if opts.Archive, err = archive.New(redis, priv, reservation.NewCodec(cfg.Schema)); err != nil {
			log.Fatal("open archive failed", zap.Error(err))
		}
	}

	pool := relay.NewPool(cfg.Relays, nil)
	defer pool.Close()
	opts.Network = node.PoolNetwork{Pool: pool}

	n, err := node.New(opts)
	if err != nil {
		log.Fatal("create node failed", zap.Error(err))
	}
	if err := n.Start(ctx); err != nil {
		log.Fatal("start node failed", zap.Error(err))
	}
	defer n.Stop()
	log.Info("agent online", zap.String("name", name), zap.String("pubkey", n.PublicKey()))

	if err := app.NewApp(n, merchant).Run(ctx); err != nil {
		log.Error("terminal ui failed", zap.Error(err))
	}
}

func logToFile(path, level string) error {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	zcfg.OutputPaths = []string{path}
	zcfg.ErrorOutputPaths = []string{path}
	l, err := zcfg.Build()
	if err != nil {
		return err
	}
	log.SetLogger(l)
	return nil
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
