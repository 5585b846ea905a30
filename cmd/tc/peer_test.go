package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"trackway/internal/agent"
	"trackway/internal/compiler"
	"trackway/internal/config"
	"trackway/internal/engine/auth"
	"trackway/internal/evaluator"
	"trackway/internal/peer"
	"trackway/internal/transport"
)

const thermoSource = `
type Reading = { celsius: number; station: Station };
type Station = string;

@task("Read temperatures from weather stations and convert them between units on request")
export class Thermo extends Task<Reading> {
    @hint("Convert a temperature in degrees celsius into degrees fahrenheit and return it")
    convert(celsius: number): number {
        return celsius * 1.8 + 32;
    }
}
`

func TestStdinDriver(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mod, err := compiler.Compile("thermo.ts", thermoSource, compiler.DefaultOptions())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	local, remote := transport.Pipe()

	agentErr := make(chan error, 1)
	go func() {
		agentErr <- agent.Run(ctx, local, mod, "Thermo", agent.Options{
			Token:     "secret",
			Evaluator: evaluator.New(evaluator.Options{}),
		})
	}()

	c, err := peer.Accept(ctx, remote, peer.Options{Verifier: auth.Static("secret")})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	in := strings.NewReader("1 + 1\n\nthrow new Error('boom')\n:exports\n")
	var out bytes.Buffer
	if err := stdinDriver(in, &out)(ctx, c); err != nil {
		t.Fatalf("driver: %v", err)
	}
	if err := <-agentErr; err != nil {
		t.Fatalf("agent: %v", err)
	}
	got := out.String()
	for _, want := range []string{"// task Thermo", "type Station = string", "> 2\n", "error:", "boom", `"convert"`} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestPeerVerifier(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Token = ""
	cfg.Peer.JWTSecret = ""
	if peerVerifier(cfg) != nil {
		t.Fatalf("expected no verifier without secrets")
	}
	cfg.Server.Token = "static"
	cfg.Peer.JWTSecret = "jwt-secret"
	v := peerVerifier(cfg)
	if _, err := v.Verify("static"); err != nil {
		t.Fatalf("static token: %v", err)
	}
	token, err := auth.Mint("jwt-secret", "agent-1", time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	p, err := v.Verify(token)
	if err != nil || p.Subject != "agent-1" {
		t.Fatalf("jwt token: %v %+v", err, p)
	}
	if _, err := v.Verify("other"); err == nil {
		t.Fatalf("expected rejection")
	}
}
