package main

import (
	"context"
	"testing"
)

func TestRun(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{name: "help", args: []string{"--help"}, want: 0},
		{name: "version", args: []string{"--version"}, want: 0},
		{name: "unknown flag", args: []string{"--unknown-flag"}, want: 1},
		{name: "bad migrate direction", args: []string{"migrate", "sideways"}, want: 1},
		{name: "negative steps", args: []string{"migrate", "--steps", "-1"}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Run(context.Background(), tt.args); got != tt.want {
				t.Fatalf("Run(%v) = %d, want %d", tt.args, got, tt.want)
			}
		})
	}
}
