package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// HostName is the name the extension passes to connectNative.
const HostName = "com.nus_dada_group.guardian"

// Manifest is the native messaging host manifest read by the browser.
type Manifest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Path           string   `json:"path"`
	Type           string   `json:"type"`
	AllowedOrigins []string `json:"allowed_origins"`
}

func buildManifest(path string, extensionIDs []string) Manifest {
	origins := make([]string, 0, len(extensionIDs))
	for _, id := range extensionIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if !strings.HasPrefix(id, "chrome-extension://") {
			id = "chrome-extension://" + id
		}
		origins = append(origins, strings.TrimSuffix(id, "/")+"/")
	}
	return Manifest{
		Name:           HostName,
		Description:    "Quarantines downloaded files and reports remote scan verdicts",
		Path:           path,
		Type:           "stdio",
		AllowedOrigins: origins,
	}
}

func newManifestCommand() *cobra.Command {
	var extensionIDs []string
	var path string

	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Print the native messaging host manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				exe, err := os.Executable()
				if err != nil {
					return fmt.Errorf("locating executable: %w", err)
				}
				path = exe
			}
			data, err := json.MarshalIndent(buildManifest(path, extensionIDs), "", "  ")
			if err != nil {
				return fmt.Errorf("encoding manifest: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&extensionIDs, "extension-id", nil, "Extension id or origin allowed to connect (repeatable)")
	cmd.Flags().StringVar(&path, "path", "", "Host executable path (defaults to this binary)")
	return cmd
}
