package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/flybeeper/drone-footprint/internal/models"
)

// LoadRules читает RuleConfig из YAML. Отсутствующие ключи сохраняют
// значения по умолчанию; пустой путь означает только значения по умолчанию.
func LoadRules(path string) (models.RuleConfig, error) {
	rules := models.DefaultRuleConfig()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("read rules file: %w", err)
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return rules, fmt.Errorf("parse rules file: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return rules, fmt.Errorf("rules file %s: %w", path, err)
	}
	return rules, nil
}

// CameraTable калибровки камер по модели дрона
type CameraTable struct {
	Models map[string]models.CameraModel `yaml:"models"`
}

// DefaultCameraTable таблица из одной камеры по умолчанию
func DefaultCameraTable() CameraTable {
	cam := models.DefaultCameraModel()
	return CameraTable{Models: map[string]models.CameraModel{cam.Name: cam}}
}

// LoadCameras читает таблицу камер из YAML:
//
//	models:
//	  mavic-3t:
//	    hfov_deg: 61
//	    image_width: 640
//	    image_height: 512
//
// Имя камеры берется из ключа, если не задано явно.
func LoadCameras(path string) (CameraTable, error) {
	if path == "" {
		return DefaultCameraTable(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return CameraTable{}, fmt.Errorf("read cameras file: %w", err)
	}

	var table CameraTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return CameraTable{}, fmt.Errorf("parse cameras file: %w", err)
	}
	if len(table.Models) == 0 {
		return CameraTable{}, fmt.Errorf("cameras file %s has no models", path)
	}

	for name, cam := range table.Models {
		if cam.Name == "" {
			cam.Name = name
		}
		if err := cam.Validate(); err != nil {
			return CameraTable{}, fmt.Errorf("cameras file %s: %w", path, err)
		}
		table.Models[name] = cam
	}
	return table, nil
}

// Camera калибровка по модели
func (t CameraTable) Camera(model string) (models.CameraModel, bool) {
	cam, ok := t.Models[model]
	return cam, ok
}

// Names модели по алфавиту
func (t CameraTable) Names() []string {
	names := make([]string, 0, len(t.Models))
	for name := range t.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
