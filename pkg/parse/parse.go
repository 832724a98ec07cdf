// Package parse reads the VMCwM instance text format:
//
//	pms <n>
//	<id> <cpu> <mem> <idleEnergy> <maxEnergy>        (n lines)
//	jobs <j>
//	vms <v>
//	<jobID> <index> <cpu> <mem> <antiColoc> [pmID...] (v lines)
//	mappings <m>
//	<jobID> <index> <pmID>                            (m lines)
//
// Energy values may be decimal. A trailing machine ID list on a VM line is
// its platform constraint; none means the VM runs anywhere. Blank lines and
// lines starting with '#' are skipped.
package parse

import (
	"bufio"
	"io"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/hometownjlu/VMAlloc/pkg/vmcwm"
)

// File parses the instance at path.
func File(path string, migPercentile *big.Rat) (*vmcwm.Instance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open instance")
	}
	defer f.Close()
	inst, err := Reader(f, migPercentile)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return inst, nil
}

type scanner struct {
	s    *bufio.Scanner
	line int
}

// next returns the fields of the next non-empty, non-comment line.
func (sc *scanner) next() ([]string, error) {
	for sc.s.Scan() {
		sc.line++
		text := strings.TrimSpace(sc.s.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		return strings.Fields(text), nil
	}
	if err := sc.s.Err(); err != nil {
		return nil, err
	}
	return nil, io.ErrUnexpectedEOF
}

func (sc *scanner) fail(err error, what string) error {
	return errors.Wrapf(err, "line %d: %s", sc.line, what)
}

// section reads a "<name> <count>" header line.
func (sc *scanner) section(name string) (int, error) {
	fields, err := sc.next()
	if err != nil {
		return 0, sc.fail(err, name+" header")
	}
	if len(fields) != 2 || fields[0] != name {
		return 0, sc.fail(errors.Errorf("expected %q header, got %q", name, strings.Join(fields, " ")), "header")
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n < 0 {
		return 0, sc.fail(errors.Errorf("bad %s count %q", name, fields[1]), "header")
	}
	return n, nil
}

// Reader parses an instance from r.
func Reader(r io.Reader, migPercentile *big.Rat) (*vmcwm.Instance, error) {
	sc := &scanner{s: bufio.NewScanner(r)}
	sc.s.Buffer(make([]byte, 0, 64*1024), 1<<20)

	nPMs, err := sc.section("pms")
	if err != nil {
		return nil, err
	}
	pms := make([]*vmcwm.PhysicalMachine, 0, nPMs)
	for i := 0; i < nPMs; i++ {
		fields, err := sc.next()
		if err != nil {
			return nil, sc.fail(err, "physical machine")
		}
		if len(fields) != 5 {
			return nil, sc.fail(errors.Errorf("expected 5 fields, got %d", len(fields)), "physical machine")
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, sc.fail(err, "machine id")
		}
		cpu, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, sc.fail(err, "machine cpu")
		}
		mem, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, sc.fail(err, "machine memory")
		}
		idle, ok := new(big.Rat).SetString(fields[3])
		if !ok {
			return nil, sc.fail(errors.Errorf("bad idle energy %q", fields[3]), "machine energy")
		}
		max, ok := new(big.Rat).SetString(fields[4])
		if !ok {
			return nil, sc.fail(errors.Errorf("bad max energy %q", fields[4]), "machine energy")
		}
		pms = append(pms, vmcwm.NewPhysicalMachine(id, cpu, mem, idle, max))
	}

	nJobs, err := sc.section("jobs")
	if err != nil {
		return nil, err
	}
	nVMs, err := sc.section("vms")
	if err != nil {
		return nil, err
	}

	jobIdx := make(map[int]*vmcwm.Job)
	var jobs []*vmcwm.Job
	for i := 0; i < nVMs; i++ {
		fields, err := sc.next()
		if err != nil {
			return nil, sc.fail(err, "virtual machine")
		}
		if len(fields) < 5 {
			return nil, sc.fail(errors.Errorf("expected at least 5 fields, got %d", len(fields)), "virtual machine")
		}
		jobID, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, sc.fail(err, "job id")
		}
		index, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, sc.fail(err, "vm index")
		}
		cpu, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, sc.fail(err, "vm cpu")
		}
		mem, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return nil, sc.fail(err, "vm memory")
		}
		anti, err := parseBool(fields[4])
		if err != nil {
			return nil, sc.fail(err, "anti-colocation flag")
		}
		var allowed []int
		for _, f := range fields[5:] {
			id, err := strconv.Atoi(f)
			if err != nil {
				return nil, sc.fail(err, "allowed machine id")
			}
			allowed = append(allowed, id)
		}

		job, ok := jobIdx[jobID]
		if !ok {
			job = &vmcwm.Job{ID: jobID}
			jobIdx[jobID] = job
			jobs = append(jobs, job)
		}
		job.VMs = append(job.VMs, vmcwm.NewVirtualMachine(jobID, index, cpu, mem, anti, allowed))
	}
	if len(jobs) != nJobs {
		return nil, errors.Errorf("header declares %d jobs, virtual machines span %d", nJobs, len(jobs))
	}

	nMaps, err := sc.section("mappings")
	if err != nil {
		return nil, err
	}
	mappings := make([]vmcwm.Mapping, 0, nMaps)
	for i := 0; i < nMaps; i++ {
		fields, err := sc.next()
		if err != nil {
			return nil, sc.fail(err, "mapping")
		}
		if len(fields) != 3 {
			return nil, sc.fail(errors.Errorf("expected 3 fields, got %d", len(fields)), "mapping")
		}
		jobID, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, sc.fail(err, "mapping job id")
		}
		index, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, sc.fail(err, "mapping vm index")
		}
		pmID, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, sc.fail(err, "mapping machine id")
		}
		mappings = append(mappings, vmcwm.Mapping{JobID: jobID, VMIndex: index, PMID: pmID})
	}

	return vmcwm.NewInstance(pms, jobs, mappings, migPercentile)
}

func parseBool(s string) (bool, error) {
	switch s {
	case "0", "false", "False":
		return false, nil
	case "1", "true", "True":
		return true, nil
	}
	return false, errors.Errorf("bad boolean %q", s)
}
