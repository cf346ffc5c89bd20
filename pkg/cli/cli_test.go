package cli_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/murmur/pkg/cli"
)

func TestRunGroupShow(t *testing.T) {
	err := cli.Run(context.Background(), []string{
		"murmur", "group", "show",
		"--chat-id", "5",
		"--repository", "memory",
		"--log-level", "error",
	})
	gt.True(t, err == nil)
}

func TestRunGroupSetActive(t *testing.T) {
	err := cli.Run(context.Background(), []string{
		"murmur", "group", "set-active",
		"--chat-id", "5",
		"--active=false",
		"--repository", "memory",
		"--log-level", "error",
	})
	gt.True(t, err == nil)
}

func TestRunErrors(t *testing.T) {
	testCases := map[string][]string{
		"unknown repository": {
			"murmur", "group", "show", "--chat-id", "5", "--repository", "unknown",
		},
		"postgres without url": {
			"murmur", "group", "show", "--chat-id", "5", "--repository", "postgres", "--database-url", "",
		},
		"missing chat id": {
			"murmur", "group", "show", "--repository", "memory",
		},
	}

	for name, argv := range testCases {
		t.Run(name, func(t *testing.T) {
			err := cli.Run(context.Background(), argv)
			gt.V(t, err).NotNil()
			gt.Equal(t, err.Code, 1)
		})
	}
}
