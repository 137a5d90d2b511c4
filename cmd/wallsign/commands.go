package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"basewall.xyz/wallsign/chainlog"
	"basewall.xyz/wallsign/cidutil"
	"basewall.xyz/wallsign/compliance"
	"basewall.xyz/wallsign/reconcile"
	"basewall.xyz/wallsign/render"
	"basewall.xyz/wallsign/sigcodec"
	"basewall.xyz/wallsign/wall"
)

// commands
var (
	encodeCmd = &cli.Command{
		Name:   "encode",
		Usage:  "Encode a JSON stroke list into a signature payload",
		Action: encodeAction,
		Flags:  flags([]cli.Flag{inFlag, calldataFlag}, canvasFlags),
	}
	decodeCmd = &cli.Command{
		Name:   "decode",
		Usage:  "Decode a hex signature payload into strokes",
		Action: decodeAction,
		Flags:  flags([]cli.Flag{inFlag, hexFlag, strictFlag, formatFlag}, canvasFlags),
	}
	rangeCmd = &cli.Command{
		Name:   "range",
		Usage:  "Print the token id window of a wall",
		Action: rangeAction,
		Flags:  flags([]cli.Flag{latestFlag, indexFlag}, layoutFlags, chainFlags),
	}
	reconcileCmd = &cli.Command{
		Name:   "reconcile",
		Usage:  "Reconcile Signed events into the ordered signatures of one wall",
		Action: reconcileAction,
		Flags:  flags([]cli.Flag{inFlag, indexFlag, strictFlag}, canvasFlags, layoutFlags, chainFlags),
	}
	renderCmd = &cli.Command{
		Name:   "render",
		Usage:  "Render one wall to PNG",
		Action: renderAction,
		Flags:  flags([]cli.Flag{inFlag, outFlag, indexFlag, strictFlag}, canvasFlags, layoutFlags, chainFlags),
	}
	cidCmd = &cli.Command{
		Name:   "cid",
		Usage:  "Print the content identifier of a payload",
		Action: cidAction,
		Flags:  []cli.Flag{inFlag, hexFlag},
	}
)

type encodeOutput struct {
	Payload  reconcile.Payload `json:"payload"`
	Size     int               `json:"size"`
	CID      string            `json:"cid"`
	Calldata reconcile.Payload `json:"calldata,omitempty"`
}

func encodeAction(c *cli.Context) error {
	raw, err := readInput(c)
	if err != nil {
		return err
	}
	var strokes []sigcodec.Stroke
	if err := json.Unmarshal(raw, &strokes); err != nil {
		return fmt.Errorf("invalid stroke list: %w", err)
	}
	b, err := sigcodec.Encode(strokes, c.Float64(widthFlagName), c.Float64(heightFlagName))
	if err != nil {
		return err
	}
	out := encodeOutput{Payload: b, Size: len(b), CID: sigcodec.PayloadCID(b)}
	if c.Bool(calldataFlagName) {
		if out.Calldata, err = chainlog.SignCalldata(b); err != nil {
			return err
		}
	}
	return printJSON(c, out)
}

type decodeOutput struct {
	Format  string            `json:"format"`
	Strokes []sigcodec.Stroke `json:"strokes"`
}

func decodeAction(c *cli.Context) error {
	payload, err := readPayload(c)
	if err != nil {
		return err
	}
	opts := sigcodec.DecodeOptions{Mode: mode(c)}
	switch f := c.String(formatFlagName); f {
	case "":
	case sigcodec.FormatV1.String():
		opts.Format = sigcodec.FormatV1
	case sigcodec.FormatV2.String():
		opts.Format = sigcodec.FormatV2
	default:
		return usageError{fmt.Errorf("unknown format %q", f)}
	}
	strokes, err := sigcodec.DecodeWithOptions(payload, c.Float64(widthFlagName), c.Float64(heightFlagName), opts)
	if err != nil {
		return err
	}
	format := opts.Format
	if format == 0 {
		format, _ = sigcodec.DetectFormat(payload)
	}
	return printJSON(c, decodeOutput{Format: format.String(), Strokes: strokes})
}

func rangeAction(c *cli.Context) error {
	layout := layoutOf(c)
	if c.IsSet(indexFlagName) {
		w, err := layout.Window(c.Uint64(indexFlagName))
		if err != nil {
			return err
		}
		return printJSON(c, w)
	}

	latest := c.Uint64(latestFlagName)
	if !c.IsSet(latestFlagName) {
		if c.String(rpcFlagName) == "" {
			return usageError{fmt.Errorf("one of --%s, --%s or --%s is required", latestFlagName, indexFlagName, rpcFlagName)}
		}
		src, closeFn, err := chainlog.Dial(c.Context, chainConfig(c))
		if err != nil {
			return err
		}
		defer closeFn()
		if latest, err = src.LatestTokenID(c.Context); err != nil {
			return err
		}
	}
	w, err := layout.Range(latest)
	if err != nil {
		return err
	}
	return printJSON(c, w)
}

func reconcileAction(c *cli.Context) error {
	res, err := reconcileWall(c)
	if res != nil {
		if perr := printJSON(c, res); perr != nil {
			return perr
		}
	}
	return err
}

func renderAction(c *cli.Context) error {
	res, err := reconcileWall(c)
	if err != nil {
		return err
	}
	img, err := render.Render(res.Strokes(), render.DefaultOptions(int(c.Float64(widthFlagName)), int(c.Float64(heightFlagName))))
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := render.EncodePNG(&buf, img); err != nil {
		return err
	}
	if err := os.WriteFile(c.String(outFlagName), buf.Bytes(), 0o644); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s %d signatures, %d skipped\n", cidutil.String(buf.Bytes()), len(res.Events), len(res.Skipped))
	return nil
}

func cidAction(c *cli.Context) error {
	var data []byte
	var err error
	if c.IsSet(hexFlagName) {
		data, err = parseHex(c.String(hexFlagName))
	} else {
		data, err = readInput(c)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, cidutil.String(data))
	return nil
}

// reconcileWall loads events from --in or --rpc and reconciles the wall
// selected by --index, or the latest one.
func reconcileWall(c *cli.Context) (*reconcile.Result, error) {
	layout := layoutOf(c)
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	opts := reconcile.Options{
		Width:  c.Float64(widthFlagName),
		Height: c.Float64(heightFlagName),
		Mode:   mode(c),
	}

	var src reconcile.Fetcher
	if c.String(rpcFlagName) != "" {
		chain, closeFn, err := chainlog.Dial(c.Context, chainConfig(c))
		if err != nil {
			return nil, err
		}
		defer closeFn()
		src = chain
	} else {
		raw, err := readInput(c)
		if err != nil {
			return nil, err
		}
		var events []reconcile.RawEvent
		if err := json.Unmarshal(raw, &events); err != nil {
			return nil, fmt.Errorf("invalid event list: %w", err)
		}
		src = reconcile.FetcherFunc(func(context.Context, wall.Window) ([]reconcile.RawEvent, error) {
			return events, nil
		})
	}

	if c.IsSet(indexFlagName) {
		w, err := layout.Window(c.Uint64(indexFlagName))
		if err != nil {
			return nil, err
		}
		return reconcile.FetchAndReconcile(c.Context, src, w, opts)
	}

	// The latest wall depends on the events themselves, so fetch once and
	// pick the window from the highest token id.
	events, err := src.FetchEvents(c.Context, wall.Window{})
	if err != nil {
		return nil, err
	}
	var latest uint64
	for _, e := range events {
		latest = max(latest, e.TokenID)
	}
	w, err := layout.Range(latest)
	if err != nil {
		return nil, err
	}
	return reconcile.Reconcile(events, w, opts)
}

func layoutOf(c *cli.Context) wall.Layout {
	return wall.Layout{Capacity: c.Uint64(capacityFlagName), Offset: c.Uint64(offsetFlagName)}
}

func mode(c *cli.Context) compliance.ComplianceMode {
	if c.Bool(strictFlagName) {
		return compliance.Strict
	}
	return compliance.Permissive
}

func chainConfig(c *cli.Context) chainlog.Config {
	return chainlog.Config{
		RPCURL:        c.String(rpcFlagName),
		ChainID:       c.Uint64(chainIDFlagName),
		Contract:      c.String(contractFlagName),
		DeployBlock:   c.Uint64(deployBlockFlagName),
		BlockRange:    c.Uint64(blockRangeFlagName),
		Confirmations: c.Uint64(confirmationsFlagName),
	}
}

func readInput(c *cli.Context) ([]byte, error) {
	path := c.String(inFlagName)
	if path == "" || path == "-" {
		return io.ReadAll(c.App.Reader)
	}
	return os.ReadFile(path)
}

func readPayload(c *cli.Context) ([]byte, error) {
	if c.IsSet(hexFlagName) {
		return parseHex(c.String(hexFlagName))
	}
	raw, err := readInput(c)
	if err != nil {
		return nil, err
	}
	return parseHex(string(raw))
}

func parseHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, usageError{fmt.Errorf("payload is not hex: %w", err)}
	}
	return b, nil
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
