package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/danmuck/inkframe/internal/config"
	"github.com/danmuck/inkframe/internal/display"
	"github.com/danmuck/inkframe/internal/observability"
	"github.com/danmuck/inkframe/internal/protocol/frame"
	"github.com/spf13/cobra"
)

func replayCmd(load func() (config.Config, error)) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "replay <capture>",
		Short: "Feed a packet capture through the decoder offline",
		Long: `Replay a capture file of back-to-back packets (header then payload)
through the same receive path as run, print the reply for every packet
and optionally write the final frame as PNG.

Examples:
  inkclient replay session.bin
  inkclient replay session.bin -o frame.png`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read capture: %w", err)
			}
			return replay(cmd.OutOrStdout(), cfg, data, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the final frame to this PNG path")

	return cmd
}

var errTruncatedCapture = errors.New("capture ends inside a packet")

// replay splits data into packets by their headers and feeds each through
// the device in rx_chunk_bytes slices.
func replay(w io.Writer, cfg config.Config, data []byte, output string) error {
	logger := observability.InitLogger("inkclient")
	st, err := buildStack(cfg, logger)
	if err != nil {
		return err
	}
	defer st.device.Close()

	chunk := cfg.Memory.RxChunkBytes
	var acked, naked int
	for off := 0; off < len(data); {
		h, err := frame.ParseHeader(data[off:])
		if err != nil {
			return fmt.Errorf("packet at offset %d: %w", off, err)
		}
		end := off + frame.HeaderLen + int(h.Length)
		if end > len(data) || end < off {
			return fmt.Errorf("%w: %s at offset %d", errTruncatedCapture, h, off)
		}

		var reply []byte
		var herr error
		for p := off; p < end && reply == nil; p += chunk {
			r, err := st.device.HandleChunk(data[p:min(p+chunk, end)])
			if r != nil {
				reply = append([]byte(nil), r...)
				herr = err
			}
		}
		switch {
		case len(reply) == 0:
			fmt.Fprintf(w, "%-5s seq=%-5d -\n", h.Type, h.Seq)
		case reply[1] == byte(frame.TypeAck):
			acked++
			fmt.Fprintf(w, "%-5s seq=%-5d ACK\n", h.Type, h.Seq)
		default:
			naked++
			fmt.Fprintf(w, "%-5s seq=%-5d NAK %v\n", h.Type, h.Seq, herr)
		}
		off = end
	}
	fmt.Fprintf(w, "%d acked, %d naked\n", acked, naked)

	if output == "" {
		return nil
	}
	f, err := os.Create(output)
	if err != nil {
		return err
	}
	if err := display.WritePNG(f, st.device.Geometry(), st.device.Frame()); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
