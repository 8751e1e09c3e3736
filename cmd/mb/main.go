package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"missionboard/internal/app"
	"missionboard/internal/config"
	"missionboard/internal/db"
	"missionboard/internal/domain"
	"missionboard/internal/engine"
	"missionboard/internal/engine/authz"
	"missionboard/internal/migrate"
	"missionboard/internal/repo"
	"missionboard/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "mb",
	Short: "Missionboard CLI",
	Long: `Missionboard coordinates task boards shared by human admins and autonomous agents.
Boards group tasks, agents heartbeat to stay live, and each board can route
messages through an OpenClaw gateway. Gateway outages never block persistence.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MISSIONBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(gatewayCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(tagCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- gateways ---

func gatewayCmd() *cobra.Command {
	gw := &cobra.Command{Use: "gateway", Short: "Manage OpenClaw gateways"}
	gw.AddCommand(gatewayCreateCmd())
	gw.AddCommand(gatewayListCmd())
	gw.AddCommand(gatewayShowCmd())
	gw.AddCommand(gatewayUpdateCmd())
	gw.AddCommand(gatewayDeleteCmd())
	gw.AddCommand(gatewayStatusCmd())
	return gw
}

func gatewayCreateCmd() *cobra.Command {
	var opts engine.GatewayCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, cfg *config.Config) error {
				opts.OrgID = cfg.Org.ID
				g, err := e.CreateGateway(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(g)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "gateway name")
	cmd.Flags().StringVar(&opts.URL, "url", "", "gateway base URL")
	cmd.Flags().StringVar(&opts.Token, "token", "", "bearer token")
	cmd.Flags().BoolVar(&opts.AllowInsecureTLS, "allow-insecure-tls", false, "skip TLS certificate verification")
	cmd.Flags().StringVar(&opts.WorkspaceRoot, "workspace-root", "", "remote workspace root")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func gatewayListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List gateways",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, cfg *config.Config) error {
				items, err := e.Repo.ListGateways(ctx, cfg.Org.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "URL", "Insecure TLS"})
				for _, g := range items {
					tw.AppendRow(table.Row{g.ID, g.Name, g.URL, g.AllowInsecureTLS})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func gatewayShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				g, err := e.Repo.GetGateway(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(g)
			})
		},
	}
	return cmd
}

func gatewayUpdateCmd() *cobra.Command {
	var name, url, token, workspaceRoot string
	var allowInsecure bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts engine.GatewayUpdateOptions
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("url") {
				opts.URL = &url
			}
			if cmd.Flags().Changed("token") {
				opts.Token = &token
			}
			if cmd.Flags().Changed("allow-insecure-tls") {
				opts.AllowInsecureTLS = &allowInsecure
			}
			if cmd.Flags().Changed("workspace-root") {
				opts.WorkspaceRoot = &workspaceRoot
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				g, err := e.UpdateGateway(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSON(g)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "gateway name")
	cmd.Flags().StringVar(&url, "url", "", "gateway base URL")
	cmd.Flags().StringVar(&token, "token", "", "bearer token")
	cmd.Flags().BoolVar(&allowInsecure, "allow-insecure-tls", false, "skip TLS certificate verification")
	cmd.Flags().StringVar(&workspaceRoot, "workspace-root", "", "remote workspace root")
	return cmd
}

func gatewayDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				return e.DeleteGateway(ctx, args[0])
			})
		},
	}
	return cmd
}

func gatewayStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Probe gateway connectivity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				g, err := e.Repo.GetGateway(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(e.ProbeGateway(ctx, g))
			})
		},
	}
	return cmd
}

// --- boards ---

func boardCmd() *cobra.Command {
	board := &cobra.Command{Use: "board", Short: "Manage boards"}
	board.AddCommand(boardCreateCmd())
	board.AddCommand(boardListCmd())
	board.AddCommand(boardShowCmd())
	board.AddCommand(boardUpdateCmd())
	board.AddCommand(boardDeleteCmd())
	return board
}

func boardCreateCmd() *cobra.Command {
	var opts engine.BoardCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a board",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, cfg *config.Config) error {
				opts.OrgID = cfg.Org.ID
				b, err := e.CreateBoard(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(b)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "board name")
	cmd.Flags().StringVar(&opts.GatewayID, "gateway", "", "gateway id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func boardListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List boards",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, cfg *config.Config) error {
				items, err := e.Repo.ListBoards(ctx, cfg.Org.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Slug", "Gateway"})
				for _, b := range items {
					gw := ""
					if b.GatewayID != nil {
						gw = *b.GatewayID
					}
					tw.AppendRow(table.Row{b.ID, b.Name, b.Slug, gw})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func boardShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				b, err := e.Repo.GetBoard(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(b)
			})
		},
	}
	return cmd
}

func boardUpdateCmd() *cobra.Command {
	var name, gatewayID string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts engine.BoardUpdateOptions
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("gateway") {
				opts.GatewayID = &gatewayID
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				b, err := e.UpdateBoard(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSON(b)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "board name")
	cmd.Flags().StringVar(&gatewayID, "gateway", "", "gateway id (empty detaches)")
	return cmd
}

func boardDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				return e.Repo.DeleteBoard(ctx, args[0])
			})
		},
	}
	return cmd
}

// --- agents ---

func agentCmd() *cobra.Command {
	agent := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents",
		Long:  "Agents are autonomous workers attached to boards. Creating one derives a deterministic gateway session key and sends a provisioning message on a best-effort basis.",
	}
	agent.AddCommand(agentCreateCmd())
	agent.AddCommand(agentListCmd())
	agent.AddCommand(agentShowCmd())
	agent.AddCommand(agentUpdateCmd())
	agent.AddCommand(agentDeleteCmd())
	agent.AddCommand(agentHeartbeatCmd())
	agent.AddCommand(agentKeyCmd())
	return agent
}

func agentCreateCmd() *cobra.Command {
	var opts engine.AgentCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				a, err := e.CreateAgent(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(e.WithEffectiveStatus(a))
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "agent name")
	cmd.Flags().StringVar(&opts.BoardID, "board", "", "board id")
	cmd.Flags().StringVar(&opts.GatewayID, "gateway", "", "gateway id (defaults to the board's)")
	cmd.Flags().StringVar(&opts.Status, "status", "", "initial status")
	cmd.Flags().BoolVar(&opts.IsBoardLead, "lead", false, "mark as board lead")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func agentListCmd() *cobra.Command {
	var boardID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents with effective status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				items, err := e.Repo.ListAgents(ctx, boardID)
				if err != nil {
					return err
				}
				for i := range items {
					items[i] = e.WithEffectiveStatus(items[i])
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Board", "Lead", "Last seen"})
				for _, a := range items {
					board := ""
					if a.BoardID != nil {
						board = *a.BoardID
					}
					lastSeen := ""
					if a.LastSeenAt != nil {
						lastSeen = *a.LastSeenAt
					}
					tw.AppendRow(table.Row{a.ID, a.Name, a.Status, board, a.IsBoardLead, lastSeen})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&boardID, "board", "", "board filter")
	return cmd
}

func agentShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				a, err := e.Repo.GetAgent(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(e.WithEffectiveStatus(a))
			})
		},
	}
	return cmd
}

func agentUpdateCmd() *cobra.Command {
	var name, status, boardID string
	var lead bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts engine.AgentUpdateOptions
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("status") {
				opts.Status = &status
			}
			if cmd.Flags().Changed("board") {
				opts.BoardID = &boardID
			}
			if cmd.Flags().Changed("lead") {
				opts.IsBoardLead = &lead
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				a, err := e.UpdateAgent(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSON(e.WithEffectiveStatus(a))
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "agent name")
	cmd.Flags().StringVar(&status, "status", "", "status")
	cmd.Flags().StringVar(&boardID, "board", "", "board id (empty detaches)")
	cmd.Flags().BoolVar(&lead, "lead", false, "board lead flag")
	return cmd
}

func agentDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				return e.DeleteAgent(ctx, args[0])
			})
		},
	}
	return cmd
}

func agentHeartbeatCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "heartbeat <name>",
		Short: "Record a heartbeat, creating the agent if unknown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				a, err := e.HeartbeatByName(ctx, args[0], status)
				if err != nil {
					return err
				}
				return printJSON(e.WithEffectiveStatus(a))
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "reported status")
	return cmd
}

func agentKeyCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "key <agent-id>",
		Short: "Issue an API key for an agent (printed once)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				key, plaintext, err := e.IssueAgentKey(ctx, args[0], name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "agent_id": key.AgentID, "key": plaintext})
				}
				fmt.Printf("Key %s for agent %s:\n%s\n", key.ID, key.AgentID, plaintext)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

// --- tasks ---

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks live on boards and flow inbox -> in_progress -> done. Updates run through the same field-level authorization the API uses.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDeleteCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var tags []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.TagIDs = tags
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.BoardID, "board", "", "board id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Status, "status", "", "status (inbox, in_progress, done)")
	cmd.Flags().StringVar(&opts.AssignedAgentID, "assignee", "", "assigned agent id")
	cmd.Flags().StringArrayVar(&tags, "tag", []string{}, "tag id (repeatable)")
	_ = cmd.MarkFlagRequired("board")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var boardID, status, assignee string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				tasks, err := e.Repo.ListTasks(ctx, boardID, status, assignee, 0, "", "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Assignee", "Board"})
				for _, t := range tasks {
					assigned := ""
					if t.AssignedAgentID != nil {
						assigned = *t.AssignedAgentID
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, assigned, t.BoardID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&boardID, "board", "", "board filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee filter")
	return cmd
}

func taskGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				ids, err := e.Repo.TaskTagIDs(ctx, t.ID)
				if err != nil {
					return err
				}
				t.TagIDs = ids
				return printJSON(t)
			})
		},
	}
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, description, status, assignee string
	var clearAssignee bool
	var tags []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var changeset authz.Changeset
			if cmd.Flags().Changed("title") {
				changeset.Title = &title
			}
			if cmd.Flags().Changed("description") {
				changeset.Description = &description
			}
			if cmd.Flags().Changed("status") {
				changeset.Status = &status
			}
			if clearAssignee {
				changeset.ClearAssignee = true
			} else if cmd.Flags().Changed("assignee") {
				changeset.AssignedAgentID = &assignee
			}
			if cmd.Flags().Changed("tag") {
				changeset.TagIDs = tags
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				actor := domain.ActorContext{Type: domain.ActorAdmin, Subject: "local-admin"}
				updated, err := e.UpdateTask(ctx, actor, t, changeset)
				if err != nil {
					return err
				}
				return printJSON(updated)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "status (inbox, in_progress, done)")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assigned agent id")
	cmd.Flags().BoolVar(&clearAssignee, "clear-assignee", false, "remove the assignee")
	cmd.Flags().StringArrayVar(&tags, "tag", []string{}, "tag id (repeatable, replaces the set)")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				return e.DeleteTask(ctx, args[0])
			})
		},
	}
	return cmd
}

// --- tags ---

func tagCmd() *cobra.Command {
	tag := &cobra.Command{Use: "tag", Short: "Manage tags"}
	tag.AddCommand(tagCreateCmd())
	tag.AddCommand(tagListCmd())
	tag.AddCommand(tagUpdateCmd())
	tag.AddCommand(tagDeleteCmd())
	return tag
}

func tagCreateCmd() *cobra.Command {
	var name, color string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tag",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, cfg *config.Config) error {
				t, err := e.CreateTag(ctx, engine.TagCreateOptions{OrgID: cfg.Org.ID, Name: name, Color: color})
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "tag name")
	cmd.Flags().StringVar(&color, "color", "", "display color")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func tagListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tags with usage counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, cfg *config.Config) error {
				items, err := e.Repo.ListTags(ctx, cfg.Org.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Slug", "Color", "Tasks"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Name, t.Slug, t.Color, t.TaskCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func tagUpdateCmd() *cobra.Command {
	var name, color string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts engine.TagUpdateOptions
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("color") {
				opts.Color = &color
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				t, err := e.UpdateTag(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "tag name")
	cmd.Flags().StringVar(&color, "color", "", "display color")
	return cmd
}

func tagDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				return e.Repo.DeleteTag(ctx, args[0])
			})
		},
	}
	return cmd
}

// --- activity log ---

func logCmd() *cobra.Command {
	logC := &cobra.Command{Use: "log", Short: "Activity feed"}
	logC.AddCommand(logTailCmd())
	return logC
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail activity entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				entries, err := e.Repo.ListActivity(ctx, n, 0)
				if err != nil {
					return err
				}
				return printJSON(entries)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	return cmd
}

// --- auth ---

func tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			secret := cfg.Auth.JWTSecret
			if secret == "" {
				secret = os.Getenv("MISSIONBOARD_JWT_SECRET")
			}
			token, err := server.MintAdminToken(secret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "local-admin", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			if err := app.EnsureOrg(cmd.Context(), r, cfg); err != nil {
				return err
			}
			e := engine.New(conn)
			authCfg := server.AuthConfig{JWTSecret: cfg.Auth.JWTSecret}
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = os.Getenv("MISSIONBOARD_JWT_SECRET")
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("MISSIONBOARD_JWT_SECRET is required for bearer auth")
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			handler, err := server.New(server.Config{Engine: e, OrgID: cfg.Org.ID, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e, cfg.Webhooks)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Missionboard API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, *config.Config) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	if err := app.EnsureOrg(ctx, r, cfg); err != nil {
		return err
	}
	return fn(ctx, engine.New(conn), cfg)
}

// printJSON renders a single record as indented JSON. Entity detail is JSON
// in both modes; only the list commands switch to go-pretty tables.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
