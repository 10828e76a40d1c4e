package cmd

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/driveport/api/internal/config"
	"github.com/driveport/api/internal/infra/http/middleware"
	"github.com/driveport/api/internal/infra/redis"
)

var (
	flagUnblockIP bool
	flagUnblockUA string
)

var unblockCmd = &cobra.Command{
	Use:   "unblock <principal-id>",
	Short: "Clear rate-limit counters and progressive blocks for an identity",
	Long: `unblock removes every rate-limit counter, violation record, and active
block held against an identity, across all scopes. Use it to release a
principal (or, with --ip, a client address) that escalated into a long block.

Anonymous traffic is keyed by a hash of client IP plus user agent, so
releasing an address requires the user agent it was seen with. Pass it via
--user-agent; an empty value matches clients that sent no User-Agent header.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := openRedis()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := cmdContext()
		defer cancel()

		identity := "principal:" + args[0]
		if flagUnblockIP {
			identity = middleware.AnonymousIdentity(args[0], flagUnblockUA)
		}

		keys, err := client.Scan(ctx, "ratelimit:*"+identity+"*", 200)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			cmd.Printf("No rate-limit state found for %s\n", identity)
			return nil
		}

		if err := client.Del(ctx, keys...); err != nil {
			return err
		}
		cmd.Printf("Cleared %d rate-limit keys for %s\n", len(keys), identity)
		return nil
	},
}

func openRedis() (*redis.Client, error) {
	addr := flagRedisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		addr = "localhost:6379"
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid redis address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid redis port %q: %w", portStr, err)
	}

	return redis.New(&config.RedisConfig{
		Host:        host,
		Port:        port,
		Password:    os.Getenv("REDIS_PASSWORD"),
		DB:          flagRedisDB,
		DialTimeout: 5 * time.Second,
		ReadTimeout: 3 * time.Second,
	}, cliLogger())
}

func init() {
	unblockCmd.Flags().BoolVar(&flagUnblockIP, "ip", false, "Treat the argument as a client IP instead of a principal ID")
	unblockCmd.Flags().StringVar(&flagUnblockUA, "user-agent", "", "User agent the client was seen with (used with --ip)")
}
