// Package device selects the compute device for a job.
package device

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/embano1/transcribe-worker/internal/command"
	"github.com/embano1/transcribe-worker/internal/logging"
)

// Device names understood by the engines.
const (
	CUDA = "cuda"
	CPU  = "cpu"
)

const probeTimeout = 5 * time.Second

// Prober decides between accelerator and CPU. It holds no state between
// calls: availability can change across cold starts, so every job probes.
type Prober struct {
	policy string // auto, cuda or cpu
	smi    string
	runner command.Runner
	logger *slog.Logger
}

// NewProber builds a prober for the given policy.
func NewProber(policy string, runner command.Runner, logger *slog.Logger) *Prober {
	if runner == nil {
		runner = command.ExecRunner{}
	}
	return &Prober{
		policy: strings.ToLower(strings.TrimSpace(policy)),
		smi:    "nvidia-smi",
		runner: runner,
		logger: logging.NewComponentLogger(logger, "device"),
	}
}

// Probe returns the device to use for this invocation.
func (p *Prober) Probe(ctx context.Context) string {
	switch p.policy {
	case CUDA:
		return CUDA
	case CPU:
		return CPU
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	res, err := p.runner.Run(probeCtx, p.smi, "-L")
	if err != nil {
		p.logger.Info("no accelerator available, using cpu", logging.String("reason", command.Describe(res, err)))
		return CPU
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "GPU ") {
			p.logger.Debug("accelerator detected", logging.String("gpu", strings.TrimSpace(line)))
			return CUDA
		}
	}
	p.logger.Info("nvidia-smi listed no GPUs, using cpu")
	return CPU
}
