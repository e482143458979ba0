package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"go-rdm-bridge-ui/internal/rocrate"
)

const maxCrateFileBytes = 256 << 20

func newUnwrapCommand() *cobra.Command {
	var pretty bool
	cmd := &cobra.Command{
		Use:   "unwrap <crate.zip>",
		Short: "Print the RESPONSE payload of an RO-Crate archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readLimited(args[0])
			if err != nil {
				return err
			}
			payload, err := rocrate.Unwrap(data)
			if err != nil {
				return errors.Wrap(err, args[0])
			}
			if pretty {
				var buf bytes.Buffer
				if err := json.Indent(&buf, payload, "", "  "); err == nil {
					payload = buf.Bytes()
				}
			}
			out := cmd.OutOrStdout()
			if _, err := out.Write(payload); err != nil {
				return err
			}
			_, err = fmt.Fprintln(out)
			return err
		},
	}
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Indent JSON payloads")
	return cmd
}

func newPackCommand() *cobra.Command {
	var (
		typ    string
		output string
	)
	cmd := &cobra.Command{
		Use:   "pack <file>...",
		Short: "Build an RO-Crate archive from files",
		Long: "pack writes the files into a zip with an RO-Crate 1.1 manifest. " +
			"The first file is described with --type (RESPONSE by default); the rest as File.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files := make([]rocrate.File, 0, len(args))
			for i, path := range args {
				data, err := readLimited(path)
				if err != nil {
					return err
				}
				f := rocrate.File{Name: filepath.Base(path), Data: data}
				if i == 0 {
					f.Type = typ
				}
				files = append(files, f)
			}
			archive, err := rocrate.Pack(files)
			if err != nil {
				return err
			}
			if output == "-" {
				_, err = cmd.OutOrStdout().Write(archive)
				return err
			}
			if err := os.WriteFile(output, archive, 0o644); err != nil {
				return errors.Wrapf(err, "write %s", output)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d bytes)\n", output, len(archive))
			return nil
		},
	}
	cmd.Flags().StringVar(&typ, "type", rocrate.ResponseType, "@type of the first file")
	cmd.Flags().StringVarP(&output, "output", "o", "crate.zip", "Output path, - for stdout")
	return cmd
}

func readLimited(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxCrateFileBytes+1))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	if len(data) > maxCrateFileBytes {
		return nil, errors.Errorf("%s exceeds %d bytes", path, maxCrateFileBytes)
	}
	return data, nil
}
