package send

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dMsg/cmd/util"
	"github.com/ValentinKolb/dMsg/rpc/call"
	"github.com/ValentinKolb/dMsg/rpc/client"
	"github.com/ValentinKolb/dMsg/rpc/link"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	SendCmd = &cobra.Command{
		Use:   "send [message...]",
		Short: "Send a message, request or call to a dMsg server",
		Long: `Open a link, send the message and print the answer.

  dmsg send hello                  request, prints the echo
  dmsg send --oneway hello         content frame, no answer
  dmsg send --call sum 1 2 3       call a method, arguments that parse as
                                   integers are sent as integers
  dmsg send --raw hello            send the message as raw chunk through
                                   the raw.echo method and print the chunk`,
		Args: cobra.MinimumNArgs(1),
		RunE: run,
	}
)

func init() {
	key := "oneway"
	SendCmd.Flags().Bool(key, false, util.WrapString("Send a content frame and do not wait for an answer"))
	key = "call"
	SendCmd.Flags().String(key, "", util.WrapString("Call this method with the arguments instead of sending a request"))
	key = "raw"
	SendCmd.Flags().Bool(key, false, util.WrapString("Send the message as raw data chunk"))
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := util.GetConfig(cmd)
	if err != nil {
		return err
	}
	registry, err := util.NewTypeRegistry()
	if err != nil {
		return err
	}
	s, err := util.GetSerializer(registry)
	if err != nil {
		return err
	}
	connector, err := util.GetClientConnector(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Connection.RequestTimeout+cfg.Transport.DialTimeout)
	defer cancel()

	conn, err := client.Dial(ctx, connector, cfg, link.WithSerializer(s))
	if err != nil {
		return err
	}
	defer conn.Close()

	switch {
	case viper.GetString("call") != "":
		res, err := call.Invoke(ctx, conn, viper.GetString("call"), parseArgs(args)...)
		if err != nil {
			return err
		}
		fmt.Printf("%v\n", res)

	case viper.GetBool("raw"):
		return sendRaw(ctx, conn, strings.Join(args, " "))

	case viper.GetBool("oneway"):
		// SendWait returns once the frame is written
		return conn.SendWait(ctx, strings.Join(args, " "))

	default:
		res, err := conn.SendRequest(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Printf("%v\n", res)
	}
	return nil
}

// sendRaw registers a raw buffer on the server and waits for the echoed chunk
func sendRaw(ctx context.Context, conn *link.Connection, message string) error {
	bufferID := link.NewRawBufferID()
	if _, err := call.Invoke(ctx, conn, "raw.echo", bufferID); err != nil {
		return err
	}

	received := make(chan link.RawChunk, 1)
	remove := conn.OnRaw(bufferID, func(chunk link.RawChunk) any {
		data := make([]byte, len(chunk.Data))
		copy(data, chunk.Data)
		received <- link.RawChunk{BufferID: chunk.BufferID, Sequence: chunk.Sequence, Data: data}
		return nil
	})
	defer remove()

	buf := append(conn.AcquireRawBuffer(len(message)), message...)
	if err := conn.SendRaw(bufferID, 0, buf, true); err != nil {
		return err
	}

	select {
	case chunk := <-received:
		fmt.Printf("raw %d/%d: %s\n", chunk.BufferID, chunk.Sequence, chunk.Data)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-conn.Done():
		return conn.Err()
	}
}

// parseArgs turns integer arguments into ints, everything else stays a string
func parseArgs(args []string) []any {
	out := make([]any, len(args))
	for i, a := range args {
		if n, err := strconv.Atoi(a); err == nil {
			out[i] = n
		} else {
			out[i] = a
		}
	}
	return out
}
