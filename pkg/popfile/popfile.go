// Package popfile dumps and reloads solution populations for the offline
// evolutionary collaborator. Each solution is its exact objective vector plus
// the placement packed into one big integer in base #machines, so round trips
// lose nothing.
package popfile

import (
	"bufio"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/hometownjlu/VMAlloc/pkg/vmcwm"
)

// Solution pairs an objective vector with its placement.
type Solution struct {
	Vector    vmcwm.ObjectiveVector
	Placement vmcwm.Placement
}

// EncodePlacement packs a complete placement into one integer: digit vi in
// base #machines is the machine index of VM vi.
func EncodePlacement(inst *vmcwm.Instance, p vmcwm.Placement) (*big.Int, error) {
	base := big.NewInt(int64(len(inst.PMs())))
	if base.Sign() == 0 {
		return nil, errors.New("instance has no machines")
	}
	acc := new(big.Int)
	for vi := len(p) - 1; vi >= 0; vi-- {
		if p[vi] == vmcwm.Unassigned || p[vi] < 0 || p[vi] >= len(inst.PMs()) {
			return nil, errors.Errorf("placement digit %d out of range: %d", vi, p[vi])
		}
		acc.Mul(acc, base)
		acc.Add(acc, big.NewInt(int64(p[vi])))
	}
	return acc, nil
}

// DecodePlacement unpacks an integer produced by EncodePlacement.
func DecodePlacement(inst *vmcwm.Instance, enc *big.Int) (vmcwm.Placement, error) {
	base := big.NewInt(int64(len(inst.PMs())))
	if base.Sign() == 0 {
		return nil, errors.New("instance has no machines")
	}
	p := vmcwm.NewPlacement(len(inst.VMs()))
	acc := new(big.Int).Set(enc)
	digit := new(big.Int)
	for vi := range p {
		acc.QuoRem(acc, base, digit)
		p[vi] = int(digit.Int64())
	}
	if acc.Sign() != 0 {
		return nil, errors.Errorf("placement integer has %s left over", acc)
	}
	return p, nil
}

// Dump writes solutions in the population format: a "pop <n>" header, then
// per solution a "v" objective line with exact rationals and an "a" placement
// line.
func Dump(w io.Writer, inst *vmcwm.Instance, sols []Solution) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "pop %d\n", len(sols))
	for _, s := range sols {
		if s.Vector.Migration != nil {
			fmt.Fprintf(bw, "v %s %s %s\n", s.Vector.Energy.RatString(),
				s.Vector.Wastage.RatString(), s.Vector.Migration)
		} else {
			fmt.Fprintf(bw, "v %s %s\n", s.Vector.Energy.RatString(), s.Vector.Wastage.RatString())
		}
		enc, err := EncodePlacement(inst, s.Placement)
		if err != nil {
			return err
		}
		fmt.Fprintf(bw, "a %s\n", enc)
	}
	return bw.Flush()
}

// DumpFile writes solutions to path.
func DumpFile(path string, inst *vmcwm.Instance, sols []Solution) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create population file")
	}
	defer f.Close()
	if err := Dump(f, inst, sols); err != nil {
		return err
	}
	return f.Close()
}

// Load reads a population written by Dump.
func Load(r io.Reader, inst *vmcwm.Instance) ([]Solution, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	header, err := scanLine(sc)
	if err != nil {
		return nil, err
	}
	if len(header) != 2 || header[0] != "pop" {
		return nil, errors.Errorf("bad population header %q", strings.Join(header, " "))
	}
	var n int
	if _, err := fmt.Sscanf(header[1], "%d", &n); err != nil || n < 0 {
		return nil, errors.Errorf("bad population size %q", header[1])
	}

	sols := make([]Solution, 0, n)
	for i := 0; i < n; i++ {
		vf, err := scanLine(sc)
		if err != nil {
			return nil, err
		}
		if len(vf) < 3 || vf[0] != "v" {
			return nil, errors.Errorf("bad objective line %q", strings.Join(vf, " "))
		}
		var v vmcwm.ObjectiveVector
		var ok bool
		if v.Energy, ok = new(big.Rat).SetString(vf[1]); !ok {
			return nil, errors.Errorf("bad energy %q", vf[1])
		}
		if v.Wastage, ok = new(big.Rat).SetString(vf[2]); !ok {
			return nil, errors.Errorf("bad wastage %q", vf[2])
		}
		if len(vf) > 3 {
			mig, ok := new(big.Int).SetString(vf[3], 10)
			if !ok {
				return nil, errors.Errorf("bad migration %q", vf[3])
			}
			v.Migration = mig
		}

		af, err := scanLine(sc)
		if err != nil {
			return nil, err
		}
		if len(af) != 2 || af[0] != "a" {
			return nil, errors.Errorf("bad placement line %q", strings.Join(af, " "))
		}
		enc, ok := new(big.Int).SetString(af[1], 10)
		if !ok {
			return nil, errors.Errorf("bad placement integer %q", af[1])
		}
		p, err := DecodePlacement(inst, enc)
		if err != nil {
			return nil, err
		}
		sols = append(sols, Solution{Vector: v, Placement: p})
	}
	return sols, nil
}

// LoadFile reads a population from path.
func LoadFile(path string, inst *vmcwm.Instance) ([]Solution, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open population file")
	}
	defer f.Close()
	sols, err := Load(f, inst)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return sols, nil
}

func scanLine(sc *bufio.Scanner) ([]string, error) {
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		return strings.Fields(text), nil
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return nil, io.ErrUnexpectedEOF
}
