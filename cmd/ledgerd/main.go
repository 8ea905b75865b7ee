package main

import (
	"encoding/json"
	_ "net/http/pprof"
	"os"
	"path/filepath"

	golog "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	badger "github.com/textileio/go-ds-badger3"
	"github.com/textileio/tender-core/cmd/common"
	"github.com/textileio/tender-core/cmd/ledgerd/httpapi"
	"github.com/textileio/tender-core/cmd/ledgerd/service"
	"github.com/textileio/tender-core/dshelper/txndswrap"
	"github.com/textileio/tender-core/msgbroker/gpubsub"
)

var (
	daemonName      = "ledgerd"
	defaultRepoPath = filepath.Join(os.Getenv("HOME"), "."+daemonName)
	log             = golog.Logger(daemonName)
	v               = viper.New()
)

func init() {
	flags := []common.Flag{
		{Name: "ledger-admin", DefValue: "", Description: "Identity that seeds the admin role on first boot"},
		{Name: "repo-path", DefValue: defaultRepoPath, Description: "Repo path for the ledger datastore"},
		{Name: "http-addr", DefValue: ":8889", Description: "HTTP query API listen address"},
		{Name: "gpubsub-project-id", DefValue: "", Description: "Google PubSub project id"},
		{Name: "msgbroker-topic-prefix", DefValue: "", Description: "Topic prefix to use for msg broker topics"},
		{Name: "metrics-addr", DefValue: ":9090", Description: "Prometheus listen address"},
		{Name: "log-debug", DefValue: false, Description: "Enable debug level logging"},
		{Name: "log-json", DefValue: false, Description: "Enable structured logging"},
	}

	common.ConfigureCLI(v, "LEDGER", flags, rootCmd.Flags())
}

var rootCmd = &cobra.Command{
	Use:   daemonName,
	Short: "ledgerd maintains a sealed-bid commit-reveal ledger",
	Long: `ledgerd maintains a sealed-bid commit-reveal ledger.

It applies the ordered operation stream from the message broker to a local
datastore and exposes a read-only HTTP query API.
`,
	PersistentPreRun: func(c *cobra.Command, args []string) {
		common.ExpandEnvVars(v, v.AllSettings())
		err := common.ConfigureLogging(v, nil)
		common.CheckErrf("setting log levels: %v", err)
	},
	Run: func(c *cobra.Command, args []string) {
		settings, err := json.MarshalIndent(v.AllSettings(), "", "  ")
		common.CheckErr(err)
		log.Infof("loaded config: %s", string(settings))

		if err := common.SetupInstrumentation(v.GetString("metrics-addr")); err != nil {
			log.Fatalf("booting instrumentation: %s", err)
		}

		repoPath := v.GetString("repo-path")
		if err := os.MkdirAll(repoPath, os.ModePerm); err != nil {
			log.Fatalf("creating repo folder: %s", err)
		}
		dstore, err := badger.NewDatastore(repoPath, &badger.DefaultOptions)
		common.CheckErrf("creating datastore: %v", err)

		projectID := v.GetString("gpubsub-project-id")
		topicPrefix := v.GetString("msgbroker-topic-prefix")
		mb, err := gpubsub.New(projectID, topicPrefix, daemonName)
		common.CheckErrf("creating google pubsub client: %v", err)

		config := service.Config{
			Admin: v.GetString("ledger-admin"),
		}
		serv, err := service.New(mb, txndswrap.Wrap(dstore), config)
		common.CheckErrf("starting service: %v", err)

		httpServer, err := httpapi.NewServer(v.GetString("http-addr"), serv)
		common.CheckErrf("starting http server: %v", err)

		common.HandleInterrupt(func() {
			if err := httpServer.Close(); err != nil {
				log.Errorf("closing http server: %s", err)
			}
			if err := serv.Close(); err != nil {
				log.Errorf("closing service: %s", err)
			}
			if err := mb.Close(); err != nil {
				log.Errorf("closing msgbroker: %s", err)
			}
			if err := dstore.Close(); err != nil {
				log.Errorf("closing datastore: %s", err)
			}
		})
	},
}

func main() {
	common.CheckErr(rootCmd.Execute())
}
