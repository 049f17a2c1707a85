// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/berth/internal/backup"
	"github.com/AleutianAI/berth/internal/clientconf"
	"github.com/AleutianAI/berth/internal/clients"
	"github.com/AleutianAI/berth/pkg/ux"
)

var (
	clientCmd = &cobra.Command{
		Use:   "client",
		Short: "Work with client application configs directly",
	}

	clientListCmd = &cobra.Command{
		Use:   "list",
		Short: "List known clients and their config locations",
		Args:  cobra.NoArgs,
		Run:   runClientList,
	}

	attachClient  string
	attachCommand string
	attachArgs    []string
	attachEnv     map[string]string

	clientAttachCmd = &cobra.Command{
		Use:   "attach [server-name]",
		Short: "Add a server entry to one client's config",
		Long: `Attach edits a single client config document without running a full
install: no launcher, no manifest, no shell block. Useful for pointing an
extra client at an already-installed server.`,
		Args: cobra.ExactArgs(1),
		Run:  runClientAttach,
	}

	clientDetachCmd = &cobra.Command{
		Use:   "detach [server-name]",
		Short: "Remove a server entry from one client's config",
		Args:  cobra.ExactArgs(1),
		Run:   runClientDetach,
	}

	clientEntriesCmd = &cobra.Command{
		Use:   "entries [client]",
		Short: "List the server entries in one client's config",
		Args:  cobra.ExactArgs(1),
		Run:   runClientEntries,
	}
)

func init() {
	clientAttachCmd.Flags().StringVar(&attachClient, "client", "claude", "client to edit")
	clientAttachCmd.Flags().StringVar(&attachCommand, "command", "", "command that launches the server")
	clientAttachCmd.Flags().StringArrayVar(&attachArgs, "arg", nil, "argument for the server command (repeatable)")
	clientAttachCmd.Flags().StringToStringVar(&attachEnv, "env", nil, "environment variable KEY=VALUE (repeatable)")
	clientAttachCmd.MarkFlagRequired("command")

	clientDetachCmd.Flags().StringVar(&attachClient, "client", "claude", "client to edit")

	clientCmd.AddCommand(clientListCmd, clientAttachCmd, clientDetachCmd, clientEntriesCmd)
}

// clientListEntry is one row of client list output.
type clientListEntry struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	ConfigPath  string `json:"config_path"`
	ConfigFound bool   `json:"config_found"`
	Entries     int    `json:"entries"`
}

func runClientList(cmd *cobra.Command, args []string) {
	start := time.Now()
	registry := clients.NewRegistry(userHome(), cfg.ClientConfigPaths)
	editor := clientconf.NewEditor(clientconf.WithLogger(appLog.Slog()))

	var rows []clientListEntry
	for _, c := range registry.All() {
		row := clientListEntry{Name: c.Name, DisplayName: c.DisplayName, ConfigPath: c.ConfigPath}
		if _, err := os.Stat(c.ConfigPath); err == nil {
			row.ConfigFound = true
			if names, err := editor.Entries(c.ConfigPath); err == nil {
				row.Entries = len(names)
			}
		}
		rows = append(rows, row)
	}

	if !output.JSON && !output.Quiet {
		for _, row := range rows {
			icon := ux.IconPending
			detail := "no config file"
			if row.ConfigFound {
				icon = ux.IconSuccess
				detail = fmt.Sprintf("%d entries", row.Entries)
			}
			ux.ArtifactStatus(fmt.Sprintf("%s (%s)", row.DisplayName, row.ConfigPath), icon, detail)
		}
	}
	exitCode = OutputResult(output, "client list", start, rows, false, nil)
}

func runClientAttach(cmd *cobra.Command, args []string) {
	start := time.Now()
	serverName := args[0]

	registry := clients.NewRegistry(userHome(), cfg.ClientConfigPaths)
	client, err := registry.Lookup(attachClient)
	if err != nil {
		exitCode = OutputResult(output, "client attach", start, nil, false, err)
		return
	}

	editor := clientconf.NewEditor(
		clientconf.WithBackups(backup.NewManager(backup.Config{MaxBackups: cfg.BackupKeep})),
		clientconf.WithLogger(appLog.Slog()),
	)
	entry := clientconf.ServerEntry{Command: attachCommand, Args: attachArgs, Env: attachEnv}
	replaced, err := editor.AddEntry(client.ConfigPath, serverName, entry)
	if err != nil {
		exitCode = OutputResult(output, "client attach", start, nil, false, err)
		return
	}

	if !output.JSON && !output.Quiet {
		verb := "Added"
		if replaced {
			verb = "Replaced"
		}
		ux.Success(fmt.Sprintf("%s %q in %s", verb, serverName, client.DisplayName))
	}
	exitCode = OutputResult(output, "client attach", start,
		map[string]any{"client": client.Name, "server": serverName, "replaced": replaced}, false, nil)
}

func runClientDetach(cmd *cobra.Command, args []string) {
	start := time.Now()
	serverName := args[0]

	registry := clients.NewRegistry(userHome(), cfg.ClientConfigPaths)
	client, err := registry.Lookup(attachClient)
	if err != nil {
		exitCode = OutputResult(output, "client detach", start, nil, false, err)
		return
	}

	editor := clientconf.NewEditor(
		clientconf.WithBackups(backup.NewManager(backup.Config{MaxBackups: cfg.BackupKeep})),
		clientconf.WithLogger(appLog.Slog()),
	)
	removed, err := editor.RemoveEntry(client.ConfigPath, serverName)
	if err != nil {
		exitCode = OutputResult(output, "client detach", start, nil, false, err)
		return
	}

	if !output.JSON && !output.Quiet {
		if removed {
			ux.Success(fmt.Sprintf("Removed %q from %s", serverName, client.DisplayName))
		} else {
			ux.Muted(fmt.Sprintf("No %q entry in %s; nothing to do", serverName, client.DisplayName))
		}
	}
	exitCode = OutputResult(output, "client detach", start,
		map[string]any{"client": client.Name, "server": serverName, "removed": removed}, false, nil)
}

// entryRow is one row of client entries output.
type entryRow struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

func runClientEntries(cmd *cobra.Command, args []string) {
	start := time.Now()

	registry := clients.NewRegistry(userHome(), cfg.ClientConfigPaths)
	client, err := registry.Lookup(args[0])
	if err != nil {
		exitCode = OutputResult(output, "client entries", start, nil, false, err)
		return
	}

	editor := clientconf.NewEditor(clientconf.WithLogger(appLog.Slog()))
	names, err := editor.Entries(client.ConfigPath)
	if err != nil {
		exitCode = OutputResult(output, "client entries", start, nil, false, err)
		return
	}

	rows := make([]entryRow, 0, len(names))
	for _, name := range names {
		entry, ok, err := editor.Entry(client.ConfigPath, name)
		if err != nil || !ok {
			continue
		}
		rows = append(rows, entryRow{Name: name, Command: entry.Command, Args: entry.Args})
	}

	if !output.JSON && !output.Quiet {
		if len(rows) == 0 {
			ux.Muted(fmt.Sprintf("No entries in %s", client.ConfigPath))
		}
		for _, row := range rows {
			detail := row.Command
			if len(row.Args) > 0 {
				detail += " " + fmt.Sprint(row.Args)
			}
			ux.ArtifactStatus(row.Name, ux.IconBullet, detail)
		}
	}
	exitCode = OutputResult(output, "client entries", start, rows, false, nil)
}

func userHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
