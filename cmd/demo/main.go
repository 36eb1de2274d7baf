package main

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/pflag"

	"github.com/comalice/refx"
)

func main() {
	configPath := pflag.String("config", "", "path to a YAML runtime config")
	accounts := pflag.Int("accounts", 8, "number of accounts")
	workers := pflag.Int("workers", 4, "concurrent transfer workers")
	transfers := pflag.Int("transfers", 1000, "transfers per worker")
	showMetrics := pflag.Bool("metrics", true, "dump runtime metrics at the end")
	pflag.Parse()

	cfg := refx.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = refx.LoadConfig(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, "config:", err)
			os.Exit(1)
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	metrics := refx.NewMetrics()
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		fmt.Fprintln(os.Stderr, "metrics:", err)
		os.Exit(1)
	}

	rt, err := refx.New(cfg, refx.WithLogger(logger), refx.WithMetrics(metrics))
	if err != nil {
		fmt.Fprintln(os.Stderr, "runtime:", err)
		os.Exit(1)
	}
	defer rt.Close()

	const perAccount = 1000
	refs := make([]*refx.Ref, *accounts)
	for i := range refs {
		refs[i] = rt.NewRef(perAccount)
	}

	// An agent tallies committed transfers asynchronously; sends inside
	// a transaction are buffered and only dispatched on commit.
	tally := rt.NewAgent(0)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(*workers)
	for w := 0; w < *workers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < *transfers; i++ {
				from := refs[(w+i)%len(refs)]
				to := refs[(w+i+1)%len(refs)]
				err := rt.RunTransaction(func(tx *refx.Tx) error {
					if err := tx.Alter(from, func(v any) any { return v.(int) - 1 }); err != nil {
						return err
					}
					if err := tx.Alter(to, func(v any) any { return v.(int) + 1 }); err != nil {
						return err
					}
					return tally.Send(func(v any) (any, error) { return v.(int) + 1, nil })
				})
				if err != nil {
					fmt.Fprintln(os.Stderr, "transfer:", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	if !refx.AwaitFor(30*time.Second, tally) {
		fmt.Fprintln(os.Stderr, "tally agent did not drain")
		os.Exit(1)
	}
	elapsed := time.Since(start)

	total := 0
	_ = rt.RunTransaction(func(tx *refx.Tx) error {
		total = 0
		for _, r := range refs {
			v, err := tx.Get(r)
			if err != nil {
				return err
			}
			total += v.(int)
		}
		return nil
	})

	fmt.Printf("%d transfers in %v (%d workers, %d accounts)\n",
		*workers**transfers, elapsed, *workers, *accounts)
	fmt.Printf("total balance: %d (expected %d)\n", total, *accounts*perAccount)
	fmt.Printf("tallied commits: %v\n", tally.Deref())

	if *showMetrics {
		families, err := reg.Gather()
		if err != nil {
			fmt.Fprintln(os.Stderr, "gather:", err)
			os.Exit(1)
		}
		enc := expfmt.NewEncoder(os.Stdout, expfmt.NewFormat(expfmt.TypeTextPlain))
		for _, fam := range families {
			if err := enc.Encode(fam); err != nil {
				fmt.Fprintln(os.Stderr, "encode:", err)
				os.Exit(1)
			}
		}
	}
}
