// camclient: command line client for camhost.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/teslashibe/go-camhost/internal/config"
	"github.com/teslashibe/go-camhost/pkg/client"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: camclient [flags] <command> [args]

Commands:
  status               show camera host status
  open | close         open or close the camera
  detect               detect markers in the newest frame
  header               show the newest frame geometry
  size [meters]        show or set the marker size
  stream [-n N] [idx]  receive N frames from stream idx (0 = until interrupted)

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	host := flag.String("host", config.HostURL(config.DefaultHostURL), "camhost base URL (or set CAMHOST_URL)")
	timeout := flag.Duration("timeout", 10*time.Second, "Request timeout")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c := client.New(*host)
	cmd, args := flag.Arg(0), flag.Args()[1:]

	var err error
	switch cmd {
	case "stream":
		err = runStream(ctx, c, args)
	default:
		reqCtx, reqCancel := context.WithTimeout(ctx, *timeout)
		err = run(reqCtx, c, cmd, args)
		reqCancel()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func run(ctx context.Context, c *client.Client, cmd string, args []string) error {
	switch cmd {
	case "status":
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		return printJSON(st)

	case "open":
		if err := c.Open(ctx); err != nil {
			return err
		}
		fmt.Println("✅ Camera open")
		return nil

	case "close":
		if err := c.Close(ctx); err != nil {
			return err
		}
		fmt.Println("✅ Camera closed")
		return nil

	case "detect":
		det, err := c.Detect(ctx)
		if err != nil {
			return err
		}
		if det.Empty() {
			fmt.Println("No markers")
			return nil
		}
		for i, id := range det.IDs {
			t := det.Tvecs[i]
			fmt.Printf("🎯 marker %d at (%.3f, %.3f, %.3f) m\n", id, t[0], t[1], t[2])
		}
		return nil

	case "header":
		h, err := c.ImageHeader(ctx)
		if err != nil {
			return err
		}
		return printJSON(h)

	case "size":
		if len(args) > 0 {
			v, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid size %q", args[0])
			}
			if err := c.SetMarkerSize(ctx, v); err != nil {
				return err
			}
		}
		size, err := c.MarkerSize(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%g m\n", size)
		return nil

	default:
		usage()
		return fmt.Errorf("unknown command")
	}
}

func runStream(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("stream", flag.ExitOnError)
	n := fs.Int("n", 10, "Frames to receive (0 = until interrupted)")
	conn := fs.String("conn", "", "Connection id (default: assigned by host)")
	fs.Parse(args)

	index := 0
	if fs.NArg() > 0 {
		v, err := strconv.Atoi(fs.Arg(0))
		if err != nil {
			return fmt.Errorf("invalid stream index %q", fs.Arg(0))
		}
		index = v
	}

	s, err := c.Stream(ctx, index, *conn)
	if err != nil {
		return err
	}
	defer s.Close()
	go func() {
		<-ctx.Done()
		s.Close()
	}()

	start := time.Now()
	for i := 0; *n == 0 || i < *n; i++ {
		f, err := s.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fmt.Printf("📹 frame %d: %dx%d step %d (%d bytes)\n", f.Seq, f.Width, f.Height, f.Step, len(f.Data))
		if i > 0 && i%30 == 0 {
			fmt.Printf("   %.1f fps\n", float64(i)/time.Since(start).Seconds())
		}
	}
	return nil
}
