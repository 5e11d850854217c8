package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/quillpub/quill-server/auth"
	"github.com/quillpub/quill-server/blobstore"
	"github.com/quillpub/quill-server/config"
	"github.com/quillpub/quill-server/content"
	"github.com/quillpub/quill-server/content/contentrepo"
	"github.com/quillpub/quill-server/db"
	"github.com/quillpub/quill-server/delivery"
	"github.com/quillpub/quill-server/delivery/relay"
	"github.com/quillpub/quill-server/fanout"
	"github.com/quillpub/quill-server/gateway"
	"github.com/quillpub/quill-server/kvdb"
	"github.com/quillpub/quill-server/notify"
	"github.com/quillpub/quill-server/notify/notifyrepo"
	"github.com/quillpub/quill-server/subscriber"
)

var log = logger.NewNamed("main")

var (
	flagConfigFile = flag.StringP("config", "c", "etc/quill.yml", "path to config file")
	flagVersion    = flag.BoolP("version", "v", false, "show version and exit")
	flagHelp       = flag.BoolP("help", "h", false, "show help and exit")
)

func main() {
	flag.Parse()

	if *flagVersion {
		fmt.Println(app.AppName)
		fmt.Printf("%s built on %s from %s\n", app.GitSummary, app.BuildDate, app.GitCommit)
		return
	}
	if *flagHelp {
		flag.PrintDefaults()
		return
	}

	conf, err := config.NewFromFile(*flagConfigFile)
	if err != nil {
		log.Fatal("can't open config file", zap.Error(err))
	}
	conf.Log.ApplyGlobal()

	a := new(app.App)
	Bootstrap(a, conf)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err = a.Start(ctx); err != nil {
		log.Fatal("can't start app", zap.Error(err))
	}
	log.Info("app started", zap.String("version", app.GitSummary), zap.String("engine", conf.Engine))

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-exit
	log.Info("received exit signal, stop app...", zap.String("signal", fmt.Sprint(sig)))

	ctx, cancel = context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err = a.Close(ctx); err != nil {
		log.Fatal("close error", zap.Error(err))
	}
	log.Info("goodbye!")
}

// Bootstrap registers the components for the configured engine. Components
// close in reverse order: the delivery registry is registered after the
// gateway so live streams end before the http server shuts down.
func Bootstrap(a *app.App, conf *config.Config) {
	a.Register(conf)
	switch conf.Engine {
	case config.EngineMongo:
		a.Register(db.New()).
			Register(contentrepo.NewMongo()).
			Register(notifyrepo.NewMongo()).
			Register(subscriber.NewMongoSource())
	default:
		a.Register(kvdb.New()).
			Register(contentrepo.NewBadger()).
			Register(notifyrepo.NewBadger()).
			Register(subscriber.NewBadgerSource())
	}
	if conf.MediaEnabled() {
		a.Register(blobstore.New())
	}
	a.Register(auth.New()).
		Register(subscriber.New())
	// the relay closes after the dispatcher has drained its queue
	if conf.RelayEnabled() {
		a.Register(relay.New())
	}
	a.Register(fanout.New()).
		Register(content.New()).
		Register(notify.New()).
		Register(gateway.New()).
		Register(delivery.New())
}
