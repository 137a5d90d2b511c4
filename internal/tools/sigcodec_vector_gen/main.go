// Command sigcodec_vector_gen recomputes the hex of every encode vector in
// testdata/conformance/sigcodec and reports or rewrites the ones that drift.
package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"basewall.xyz/wallsign/sigcodec"
)

type encodeVector struct {
	Name    string            `json:"name"`
	Width   float64           `json:"width"`
	Height  float64           `json:"height"`
	Strokes []sigcodec.Stroke `json:"strokes"`
	Hex     string            `json:"hex"`
}

func main() {
	app := cli.NewApp()
	app.Name = "sigcodec_vector_gen"
	app.Usage = "regenerate sigcodec encode vectors"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:  "file",
			Usage: "encode vector file",
			Value: "testdata/conformance/sigcodec/encode_vectors.json",
		},
		&cli.BoolFlag{
			Name:  "write",
			Usage: "rewrite the file instead of only reporting drift",
		},
	}
	app.Action = func(c *cli.Context) error {
		path := c.String("file")
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var vectors []encodeVector
		if err := json.Unmarshal(b, &vectors); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		drift := 0
		for i, v := range vectors {
			got, err := sigcodec.Encode(v.Strokes, v.Width, v.Height)
			if err != nil {
				return fmt.Errorf("%s: %w", v.Name, err)
			}
			h := hex.EncodeToString(got)
			if h != v.Hex {
				drift++
				log.WithFields(log.Fields{"vector": v.Name, "want": v.Hex, "got": h}).Warn("vector drift")
				vectors[i].Hex = h
			}
		}
		if drift == 0 {
			log.Infof("%d vectors up to date", len(vectors))
			return nil
		}
		if !c.Bool("write") {
			return fmt.Errorf("%d of %d vectors drifted", drift, len(vectors))
		}
		out, err := json.MarshalIndent(vectors, "", "  ")
		if err != nil {
			return err
		}
		return os.WriteFile(path, append(out, '\n'), 0o644)
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
