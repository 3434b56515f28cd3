package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"retroboard/internal/authpw"
	"retroboard/internal/config"
	"retroboard/internal/export"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the configuration and repository access",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := buildRuntime(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer rt.Close()

		conn := rt.client.CheckConnectivity(cmd.Context())
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(conn); err != nil {
			return err
		}
		if !conn.OK {
			return fmt.Errorf("repository unreachable: %s", conn.Detail)
		}
		return nil
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a timestamped backup of the board now",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := buildRuntime(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer rt.Close()
		if err := rt.load(cmd.Context()); err != nil {
			return err
		}

		res := rt.board.SnapshotBackup(cmd.Context())
		if !res.Stored {
			return fmt.Errorf("backup to %s was not stored", res.Path)
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.Path)
		if res.Archived != "" {
			fmt.Fprintln(cmd.OutOrStdout(), res.Archived)
		}
		return nil
	},
}

var (
	exportFormat string
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the board as json, html or pdf",
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, err := export.ParseFormat(strings.ToLower(exportFormat))
		if err != nil {
			return fmt.Errorf("%w: %q", err, exportFormat)
		}
		rt, err := buildRuntime(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer rt.Close()
		if err := rt.load(cmd.Context()); err != nil {
			return err
		}

		result, err := rt.exporter.Export(cmd.Context(), format)
		if err != nil {
			return err
		}
		out := exportOut
		if out == "" {
			out = result.Filename
		}
		if out == "-" {
			_, err = cmd.OutOrStdout().Write(result.Data)
			return err
		}
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(out, result.Data, 0o644); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the stored repository access token",
}

var tokenSetCmd = &cobra.Command{
	Use:   "set [token]",
	Short: "Store an access token (reads stdin when no argument is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := ""
		if len(args) == 1 {
			token = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return errors.New("no token on stdin")
			}
			token = line
		}
		path := tokenPath()
		if err := config.WriteToken(path, token); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "token saved to %s\n", path)
		return nil
	},
}

var tokenClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored access token",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.ClearToken(tokenPath()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "token cleared")
		return nil
	},
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password <password>",
	Short: "Print a bcrypt hash usable as RETRO_ADMIN_PASSWORD",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := authpw.Hash(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func tokenPath() string {
	if cfg.TokenFile != "" {
		return cfg.TokenFile
	}
	return config.DefaultTokenFile()
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "json, html or pdf")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file, - for stdout (default: generated name)")

	tokenCmd.AddCommand(tokenSetCmd, tokenClearCmd)
}
