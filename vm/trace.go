package vm

import (
	"strings"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("pcode.vm")

func newRunID() string {
	return uuid.NewString()
}

// RunID identifies this machine's run in trace output.
func (m *Machine) RunID() string {
	return m.runID
}

func (m *Machine) traceStart() {
	if !m.config.Trace {
		return
	}
	m.log.Debugf("[%s] start: %d instructions, %d cells", m.runID, len(m.program.Instructions), len(m.memory))
}

func (m *Machine) traceStep(in Instruction) {
	m.log.Debugf("[%s] %04d %-16s stack=%s", m.runID, m.pc, in.String(), formatStack(m.stack))
}

func (m *Machine) traceHalt() {
	if !m.config.Trace {
		return
	}
	m.log.Debugf("[%s] halted after %d steps", m.runID, m.steps)
}

func (m *Machine) traceFault(f *Fault) {
	m.log.Errorf("[%s] %s", m.runID, f.Error())
}

func formatStack(stack []Value) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range stack {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(v.Literal())
	}
	b.WriteByte(']')
	return b.String()
}
