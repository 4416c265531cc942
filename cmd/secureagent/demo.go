package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/Francosimon53/secureagent-sub018/internal/domain"
	"github.com/Francosimon53/secureagent-sub018/internal/infra/config"
	"github.com/Francosimon53/secureagent-sub018/internal/infra/logger"
	"github.com/Francosimon53/secureagent-sub018/internal/usecase/router"
	"github.com/Francosimon53/secureagent-sub018/internal/usecase/spawner"
	"github.com/Francosimon53/secureagent-sub018/internal/usecase/subagent"
)

const demoChannel = "demo"

func runDemo() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	a, err := buildApp(cfg, logger.Discard())
	if err != nil {
		return err
	}
	defer a.close()
	return demo(context.Background(), a, os.Stdout)
}

// demo drives one round of the control plane: a coordinator and two workers
// join a channel, exchange a broadcast and a direct message, and the
// coordinator delegates to a sub-agent that completes.
func demo(ctx context.Context, a *app, w io.Writer) error {
	team, err := a.spawner.SpawnMultiple(ctx, []spawner.Request{
		{PersonaType: "coordinator", ChannelID: demoChannel},
		{PersonaType: "researcher", ChannelID: demoChannel},
		{PersonaType: "coder", ChannelID: demoChannel},
	})
	if err != nil {
		return fmt.Errorf("spawn team: %w", err)
	}
	lead := team[0]

	var inbox []string
	for _, agent := range team {
		if err := a.members.AddParticipant(ctx, demoChannel, agent.ID); err != nil {
			return fmt.Errorf("join %s: %w", agent.ID, err)
		}
		persona := agent.Persona.ID
		if _, err := a.router.Subscribe(router.Subscription{
			AgentID: agent.ID,
			Handler: func(_ context.Context, m domain.AgentMessage) error {
				inbox = append(inbox, fmt.Sprintf("%s <- %s: %s", persona, m.Type, m.Content))
				return nil
			},
		}); err != nil {
			return err
		}
	}

	results := []*domain.DeliveryResult{}
	res, err := a.router.Broadcast(ctx, lead.ID, demoChannel, "kickoff")
	if err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}
	results = append(results, res)
	res, err = a.router.SendDirect(ctx, team[1].ID, lead.ID, demoChannel, "findings ready")
	if err != nil {
		return fmt.Errorf("direct: %w", err)
	}
	results = append(results, res)

	helper, err := a.spawner.SpawnSubAgent(ctx, subagent.Request{ParentAgentID: lead.ID, PersonaType: "reviewer", Task: "review"})
	if err != nil {
		return fmt.Errorf("sub-agent: %w", err)
	}
	done, err := a.spawner.CompleteSubAgent(ctx, helper.ID, subagent.Result{Success: true, Output: "lgtm"})
	if err != nil {
		return fmt.Errorf("complete sub-agent: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MESSAGE\tDELIVERED\tQUEUED\tFAILED")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", r.MessageID, len(r.Delivered), len(r.Queued), len(r.Failed))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Join(inbox, "\n"))
	fmt.Fprintf(w, "\nsub-agent %s (%s): %s\n", done.ID, done.Persona.ID, done.Status)

	stats, err := a.lifecycle.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "agents: %d active, %d total\n", stats.Active, stats.Total)
	return nil
}
