package consultation

import (
	"fmt"
	"sort"
	"strings"
)

// ExamVersion tags the physical_exam JSON layout. Bump it when a sub-section
// changes shape so stored rows can be told apart.
const ExamVersion = "v1"

// Exam is the structured ophthalmologic exam. Every field is optional; a nil
// field in a patch means "leave as is".
type Exam struct {
	Version             string               `json:"version,omitempty"`
	VisualAcuity        *VisualAcuity        `json:"visual_acuity,omitempty"`
	IntraocularPressure *IntraocularPressure `json:"intraocular_pressure,omitempty"`
	Refraction          *Refraction          `json:"refraction,omitempty"`
	Biomicroscopy       *string              `json:"biomicroscopy,omitempty"`
	Fundoscopy          *string              `json:"fundoscopy,omitempty"`
	Ectoscopy           *string              `json:"ectoscopy,omitempty"`
	OcularMotility      *string              `json:"ocular_motility,omitempty"`
	Observations        *string              `json:"observations,omitempty"`
}

// VisualAcuity is recorded as free Snellen notation ("20/20", "20/40 cc").
type VisualAcuity struct {
	OD *string `json:"od,omitempty"`
	OE *string `json:"oe,omitempty"`
}

// IntraocularPressure in mmHg.
type IntraocularPressure struct {
	OD     *float64 `json:"od,omitempty"`
	OE     *float64 `json:"oe,omitempty"`
	Method *string  `json:"method,omitempty"`
}

type Refraction struct {
	OD *RefractionEye `json:"od,omitempty"`
	OE *RefractionEye `json:"oe,omitempty"`
}

// RefractionEye holds diopters for sphere/cylinder/addition and degrees for axis.
type RefractionEye struct {
	Spherical   *float64 `json:"spherical,omitempty"`
	Cylindrical *float64 `json:"cylindrical,omitempty"`
	Axis        *int     `json:"axis,omitempty"`
	Addition    *float64 `json:"addition,omitempty"`
}

// Merge returns e with every non-nil field of patch applied, per sub-section
// and per eye.
func (e Exam) Merge(patch Exam) Exam {
	out := e
	if patch.VisualAcuity != nil {
		va := VisualAcuity{}
		if e.VisualAcuity != nil {
			va = *e.VisualAcuity
		}
		va.OD = pick(patch.VisualAcuity.OD, va.OD)
		va.OE = pick(patch.VisualAcuity.OE, va.OE)
		out.VisualAcuity = &va
	}
	if patch.IntraocularPressure != nil {
		iop := IntraocularPressure{}
		if e.IntraocularPressure != nil {
			iop = *e.IntraocularPressure
		}
		iop.OD = pick(patch.IntraocularPressure.OD, iop.OD)
		iop.OE = pick(patch.IntraocularPressure.OE, iop.OE)
		iop.Method = pick(patch.IntraocularPressure.Method, iop.Method)
		out.IntraocularPressure = &iop
	}
	if patch.Refraction != nil {
		rf := Refraction{}
		if e.Refraction != nil {
			rf = *e.Refraction
		}
		rf.OD = mergeEye(rf.OD, patch.Refraction.OD)
		rf.OE = mergeEye(rf.OE, patch.Refraction.OE)
		out.Refraction = &rf
	}
	out.Biomicroscopy = pick(patch.Biomicroscopy, e.Biomicroscopy)
	out.Fundoscopy = pick(patch.Fundoscopy, e.Fundoscopy)
	out.Ectoscopy = pick(patch.Ectoscopy, e.Ectoscopy)
	out.OcularMotility = pick(patch.OcularMotility, e.OcularMotility)
	out.Observations = pick(patch.Observations, e.Observations)
	out.Version = ExamVersion
	return out
}

func mergeEye(base, patch *RefractionEye) *RefractionEye {
	if patch == nil {
		return base
	}
	eye := RefractionEye{}
	if base != nil {
		eye = *base
	}
	eye.Spherical = pick(patch.Spherical, eye.Spherical)
	eye.Cylindrical = pick(patch.Cylindrical, eye.Cylindrical)
	eye.Axis = pick(patch.Axis, eye.Axis)
	eye.Addition = pick(patch.Addition, eye.Addition)
	return &eye
}

func pick[T any](patch, base *T) *T {
	if patch != nil {
		return patch
	}
	return base
}

// Validate checks physiological ranges before the exam reaches storage.
func (e Exam) Validate() error {
	if e.Version != "" && e.Version != ExamVersion {
		return fmt.Errorf("unsupported exam version %q", e.Version)
	}
	var problems []string
	if iop := e.IntraocularPressure; iop != nil {
		for eye, v := range map[string]*float64{"od": iop.OD, "oe": iop.OE} {
			if v != nil && (*v < 0 || *v > 80) {
				problems = append(problems, fmt.Sprintf("intraocular_pressure.%s out of range (0-80 mmHg)", eye))
			}
		}
	}
	if rf := e.Refraction; rf != nil {
		for eye, v := range map[string]*RefractionEye{"od": rf.OD, "oe": rf.OE} {
			problems = append(problems, v.problems("refraction."+eye)...)
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

func (r *RefractionEye) problems(prefix string) []string {
	if r == nil {
		return nil
	}
	var out []string
	if r.Spherical != nil && (*r.Spherical < -30 || *r.Spherical > 30) {
		out = append(out, prefix+".spherical out of range (-30/+30 D)")
	}
	if r.Cylindrical != nil && (*r.Cylindrical < -15 || *r.Cylindrical > 15) {
		out = append(out, prefix+".cylindrical out of range (-15/+15 D)")
	}
	if r.Axis != nil && (*r.Axis < 0 || *r.Axis > 180) {
		out = append(out, prefix+".axis out of range (0-180)")
	}
	if r.Addition != nil && (*r.Addition < 0 || *r.Addition > 4) {
		out = append(out, prefix+".addition out of range (0/+4 D)")
	}
	return out
}
