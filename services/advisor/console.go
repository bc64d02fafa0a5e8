// Package advisorsvc provides core.AdvisorService implementations. The
// console service is a DEV stand-in that echoes a canned walkthrough of
// the snapshot; a real model-backed client plugs in behind the same
// interface.
package advisorsvc

import (
	"context"
	"log"

	"github.com/trezcool/chuo/core"
)

type consoleService struct {
	disableOutput bool
}

var _ core.AdvisorService = (*consoleService)(nil)

func NewConsoleService() core.AdvisorService {
	return &consoleService{}
}

func (svc consoleService) Advise(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !svc.disableOutput {
		log.Printf("advisor prompt:\n%s", prompt)
	}
	return "Based on your current schedule and grades, keep your load balanced " +
		"and confirm prerequisites with your department before adding sections.", nil
}

// NewConsoleServiceMock is the silent variant for tests.
func NewConsoleServiceMock() core.AdvisorService {
	return &consoleService{disableOutput: true}
}
