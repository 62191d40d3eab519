package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fraudscore/internal/client"
	"fraudscore/internal/server"
)

const usage = `usage: fraudctl <command> [flags]

commands:
  score   score transactions from a JSON file (object or array)
  health  check server liveness
  info    print the loaded model description
`

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	fs := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
	url := fs.String("url", "http://localhost:5001", "Server base URL")
	timeout := fs.Duration("timeout", 5*time.Second, "Request timeout")
	file := fs.String("file", "-", "Transaction JSON file, - for stdin")
	stream := fs.Bool("stream", false, "Score over a single websocket connection")
	_ = fs.Parse(os.Args[2:])

	c := client.New(*url, *timeout)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "score":
		err = score(ctx, c, *file, *stream)
	case "health":
		if err = c.Health(ctx); err == nil {
			fmt.Println("ok")
		}
	case "info":
		var info interface{}
		if info, err = c.ModelInfo(ctx); err == nil {
			err = printJSON(info)
		}
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", os.Args[1]).Msg("fraudctl failed")
	}
}

func score(ctx context.Context, c *client.Client, path string, stream bool) error {
	reqs, err := readRequests(path)
	if err != nil {
		return err
	}

	if stream {
		results, err := c.Stream(ctx, reqs)
		if err != nil {
			return err
		}
		for _, r := range results {
			if r.Err != nil {
				if err := printJSON(server.ErrorResponse{Error: r.Err.Message, Kind: r.Err.Kind, RequestID: r.Err.RequestID}); err != nil {
					return err
				}
				continue
			}
			if err := printJSON(r.Response); err != nil {
				return err
			}
		}
		return nil
	}

	for _, req := range reqs {
		resp, err := c.Score(ctx, req)
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			if err := printJSON(server.ErrorResponse{Error: apiErr.Message, Kind: apiErr.Kind, RequestID: apiErr.RequestID}); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		if err := printJSON(resp); err != nil {
			return err
		}
	}
	return nil
}

// readRequests accepts a single request object or an array of them.
func readRequests(path string) ([]server.Request, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var many []server.Request
	if err := json.Unmarshal(data, &many); err == nil {
		return many, nil
	}
	var one server.Request
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return []server.Request{one}, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
