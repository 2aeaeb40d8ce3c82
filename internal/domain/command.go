package domain

// CommandType enumerates the command envelopes the coordinator (or an
// external admin caller) may enqueue for delivery on a device's next
// heartbeat response.
type CommandType string

const (
	CommandUnspecified    CommandType = "unspecified"
	CommandAck            CommandType = "ack"
	CommandUpdateInterval CommandType = "update_interval"
	CommandStartTraining  CommandType = "start_training"
	CommandStopTraining   CommandType = "stop_training"
	CommandShutdown       CommandType = "shutdown"
)

// Command is the typed envelope described in SPEC_FULL.md §9: parameters
// of a start_training command are parsed once into StartTrainingParams
// below rather than re-parsed as map[string]string at every call site.
type Command struct {
	Type       CommandType       `json:"type"`
	Parameters map[string]string `json:"parameters"`
	Metadata   map[string]string `json:"metadata"`
}

// StartTrainingParams is the parsed form of a start_training command.
type StartTrainingParams struct {
	JobID          string
	ModelID        string
	Round          int
	PartitionIndex int
	PartitionTotal int
	Architecture   string
}

// NewStartTrainingCommand builds a start_training Command from typed
// parameters, rendering them into the wire map<str,str> form exactly once.
func NewStartTrainingCommand(p StartTrainingParams) Command {
	return Command{
		Type: CommandStartTraining,
		Parameters: map[string]string{
			"job_id":          p.JobID,
			"model_id":        p.ModelID,
			"round":           itoa(p.Round),
			"partition_index": itoa(p.PartitionIndex),
			"partition_total": itoa(p.PartitionTotal),
			"architecture":    p.Architecture,
		},
	}
}

// ParseStartTraining parses a start_training Command back into typed
// parameters. Returns an error if any required field is missing or
// malformed — callers treat that as a precondition error.
func ParseStartTraining(c Command) (StartTrainingParams, error) {
	var p StartTrainingParams
	if c.Type != CommandStartTraining {
		return p, ErrWrongCommandType
	}
	var err error
	p.JobID, err = requireString(c.Parameters, "job_id", err)
	p.ModelID, err = requireString(c.Parameters, "model_id", err)
	p.Architecture, err = requireString(c.Parameters, "architecture", err)
	p.Round, err = requireInt(c.Parameters, "round", err)
	p.PartitionIndex, err = requireInt(c.Parameters, "partition_index", err)
	p.PartitionTotal, err = requireInt(c.Parameters, "partition_total", err)
	if err != nil {
		return StartTrainingParams{}, err
	}
	return p, nil
}

// NewStopTrainingCommand builds a stop_training Command for one job/round.
func NewStopTrainingCommand(jobID string, round int) Command {
	return Command{
		Type: CommandStopTraining,
		Parameters: map[string]string{
			"job_id": jobID,
			"round":  itoa(round),
		},
	}
}

// NewShutdownCommand builds a durable shutdown Command.
func NewShutdownCommand() Command {
	return Command{Type: CommandShutdown}
}

// AckCommand is the default response when no command is queued.
func AckCommand() Command {
	return Command{Type: CommandAck}
}

func itoa(i int) string {
	// avoid importing strconv in two places; kept trivial and local.
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

func requireString(m map[string]string, key string, prevErr error) (string, error) {
	if prevErr != nil {
		return "", prevErr
	}
	v, ok := m[key]
	if !ok || v == "" {
		return "", ErrMissingParameter
	}
	return v, nil
}

func requireInt(m map[string]string, key string, prevErr error) (int, error) {
	if prevErr != nil {
		return 0, prevErr
	}
	s, ok := m[key]
	if !ok || s == "" {
		return 0, ErrMissingParameter
	}
	n := 0
	neg := false
	for i, r := range s {
		if i == 0 && r == '-' {
			neg = true
			continue
		}
		if r < '0' || r > '9' {
			return 0, ErrMissingParameter
		}
		n = n*10 + int(r-'0')
	}
	if neg {
		n = -n
	}
	return n, nil
}
