package evaluation

import (
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
)

// Specialization 是验证者的评分配置标签。
type Specialization string

// 内置的验证者专长。
const (
	SpecializationGeneral     Specialization = "general"
	SpecializationElectronics Specialization = "electronics"
	SpecializationInventory   Specialization = "inventory"
)

const weightTolerance = 1e-6

// Weights 描述三个子分数在总分中的权重，三者之和必须为 1。
type Weights struct {
	Structure float64 `yaml:"structure" json:"structure"`
	Content   float64 `yaml:"content" json:"content"`
	Evidence  float64 `yaml:"evidence" json:"evidence"`
}

// Sum 返回权重之和。
func (w Weights) Sum() float64 {
	return w.Structure + w.Content + w.Evidence
}

// Profile 是某个专长的完整评分配置。
type Profile struct {
	Name                 Specialization `yaml:"name" json:"name"`
	Weights              Weights        `yaml:"weights" json:"weights"`
	MinApprovalThreshold float64        `yaml:"min_approval_threshold" json:"min_approval_threshold"`
	MinScanConfidence    float64        `yaml:"min_scan_confidence" json:"min_scan_confidence"`
	RequiredItemFields   []string       `yaml:"required_item_fields" json:"required_item_fields"`
	RequiredEvidence     []string       `yaml:"required_evidence" json:"required_evidence"`
	OptionalEvidence     []string       `yaml:"optional_evidence" json:"optional_evidence"`
}

// Validate 检查权重与阈值是否合法。
func (p Profile) Validate() error {
	w := p.Weights
	if w.Structure < 0 || w.Content < 0 || w.Evidence < 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("专长 %s 的权重不能为负数", p.Name))
	}
	if math.Abs(w.Sum()-1) > weightTolerance {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("专长 %s 的权重之和为 %.4f，应为 1", p.Name, w.Sum()))
	}
	if p.MinApprovalThreshold < 0 || p.MinApprovalThreshold > 1 {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("专长 %s 的通过阈值必须位于 [0,1]", p.Name))
	}
	if len(p.RequiredItemFields) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("专长 %s 缺少商品必填字段", p.Name))
	}
	if len(p.RequiredEvidence) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("专长 %s 缺少必需证据", p.Name))
	}
	return nil
}

func (p Profile) clone() Profile {
	p.RequiredItemFields = append([]string(nil), p.RequiredItemFields...)
	p.RequiredEvidence = append([]string(nil), p.RequiredEvidence...)
	p.OptionalEvidence = append([]string(nil), p.OptionalEvidence...)
	return p
}

var (
	defaultItemFields       = []string{"sku", "name", "quantity", "location", "verification_method", "confidence"}
	defaultRequiredEvidence = []string{"scan_logs", "item_list"}
	defaultOptionalEvidence = []string{"verification_method", "agent_id"}
)

func generalProfile() Profile {
	return Profile{
		Name:                 SpecializationGeneral,
		Weights:              Weights{Structure: 0.3, Content: 0.4, Evidence: 0.3},
		MinApprovalThreshold: 0.7,
		MinScanConfidence:    0.7,
		RequiredItemFields:   defaultItemFields,
		RequiredEvidence:     defaultRequiredEvidence,
		OptionalEvidence:     defaultOptionalEvidence,
	}.clone()
}

// Presets 返回内置专长配置的副本。
// 专长显式调高的权重保持不变，差额从未调整的权重中均摊扣除。
func Presets() map[Specialization]Profile {
	general := generalProfile()

	electronics := generalProfile()
	electronics.Name = SpecializationElectronics
	electronics.Weights = Weights{Structure: 0.25, Content: 0.5, Evidence: 0.25}
	electronics.RequiredItemFields = []string{"sku", "quantity", "location", "verification_method"}

	inventory := generalProfile()
	inventory.Name = SpecializationInventory
	inventory.Weights = Weights{Structure: 0.4, Content: 0.2, Evidence: 0.4}

	return map[Specialization]Profile{
		SpecializationGeneral:     general,
		SpecializationElectronics: electronics,
		SpecializationInventory:   inventory,
	}
}

// ProfileSet 是按专长索引的配置集合。
type ProfileSet map[Specialization]Profile

// Resolve 返回指定专长的配置，未知专长回退到 general。
func (s ProfileSet) Resolve(spec Specialization) Profile {
	key := Specialization(strings.ToLower(strings.TrimSpace(string(spec))))
	if p, ok := s[key]; ok {
		return p.clone()
	}
	if p, ok := s[SpecializationGeneral]; ok {
		return p.clone()
	}
	return generalProfile()
}

// ResolveProfile 在内置配置中查找专长。
func ResolveProfile(spec Specialization) Profile {
	return ProfileSet(Presets()).Resolve(spec)
}

type profileFile struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// LoadProfiles 从 YAML 文件读取专长配置并覆盖内置值。
// 文件中未填写的字段沿用同名内置配置（或 general）的取值。
func LoadProfiles(path string) (ProfileSet, error) {
	set := ProfileSet(Presets())
	if strings.TrimSpace(path) == "" {
		return set, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取专长配置失败")
	}
	var file profileFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析专长配置失败")
	}

	for name, override := range file.Profiles {
		spec := Specialization(strings.ToLower(strings.TrimSpace(name)))
		merged := set.Resolve(spec)
		merged.Name = spec
		if override.Weights != (Weights{}) {
			merged.Weights = override.Weights
		}
		if override.MinApprovalThreshold > 0 {
			merged.MinApprovalThreshold = override.MinApprovalThreshold
		}
		if override.MinScanConfidence > 0 {
			merged.MinScanConfidence = override.MinScanConfidence
		}
		if len(override.RequiredItemFields) > 0 {
			merged.RequiredItemFields = override.RequiredItemFields
		}
		if len(override.RequiredEvidence) > 0 {
			merged.RequiredEvidence = override.RequiredEvidence
		}
		if override.OptionalEvidence != nil {
			merged.OptionalEvidence = override.OptionalEvidence
		}
		if err := merged.Validate(); err != nil {
			return nil, err
		}
		set[spec] = merged
	}
	return set, nil
}
