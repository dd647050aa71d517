package residual

import "bufio"
import "compress/lzw"
import "encoding/binary"
import "io"
import "io/ioutil"
import "os"
import "path/filepath"

import "github.com/pkg/errors"
import "gopkg.in/yaml.v2"

// SavedModel layout inside the model directory.
const (
	ManifestFile  = "saved_model.yaml"
	VariablesFile = "variables/variables.lzw"
	Format        = "personcar.saved_model/v1"
)

// Manifest is the yaml description of a saved model.
type Manifest struct {
	Format    string     `yaml:"format"`
	Name      string     `yaml:"name"`
	Config    Config     `yaml:"config"`
	Outputs   []string   `yaml:"outputs"`
	Variables []Variable `yaml:"variables"`
}

// Variable locates one variable in the variables file, in float32 units.
type Variable struct {
	Name      string `yaml:"name"`
	Shape     []int  `yaml:"shape,flow"`
	Offset    int    `yaml:"offset"`
	Trainable bool   `yaml:"trainable"`
}

// Save writes the model directory dir.
func (n *Network) Save(dir string) error {
	if err := os.MkdirAll(filepath.Join(dir, filepath.Dir(VariablesFile)), 0o755); err != nil {
		return errors.Wrap(err, "create saved model")
	}
	m := Manifest{
		Format:  Format,
		Name:    n.Config.Name,
		Config:  n.Config,
		Outputs: []string{PersonOutput, CarOutput},
	}
	offset := 0
	for _, v := range n.Variables() {
		m.Variables = append(m.Variables, Variable{
			Name:      v.Name,
			Shape:     v.Shape,
			Offset:    offset,
			Trainable: v.Grad != nil,
		})
		offset += len(v.Value)
	}
	if err := n.writeVariablesToFile(filepath.Join(dir, VariablesFile)); err != nil {
		return errors.Wrap(err, "write variables")
	}
	data, err := yaml.Marshal(&m)
	if err != nil {
		return err
	}
	return errors.Wrap(ioutil.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644), "write manifest")
}

func (n *Network) writeVariablesToFile(name string) error {
	file, err := os.Create(name)
	if err != nil {
		return err
	}
	err = n.WriteVariables(file)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return err
}

// WriteVariables writes every variable as little-endian float32 into an lzw stream.
func (n *Network) WriteVariables(w io.Writer) error {
	lw := lzw.NewWriter(w, lzw.LSB, 8)
	bw := bufio.NewWriter(lw)
	for _, v := range n.Variables() {
		if err := binary.Write(bw, binary.LittleEndian, v.Value); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return lw.Close()
}

// ReadVariables fills every variable from an lzw stream written by WriteVariables.
func (n *Network) ReadVariables(r io.Reader) error {
	lr := lzw.NewReader(r, lzw.LSB, 8)
	defer lr.Close()
	br := bufio.NewReader(lr)
	for _, v := range n.Variables() {
		if err := binary.Read(br, binary.LittleEndian, v.Value); err != nil {
			return errors.Wrapf(err, "variable %s", v.Name)
		}
	}
	return nil
}

// ReadManifest reads the manifest of the model directory dir.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := ioutil.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, errors.Wrap(err, "read manifest")
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "parse manifest")
	}
	if m.Format != Format {
		return nil, errors.Errorf("saved model format %q, want %q", m.Format, Format)
	}
	return &m, nil
}

// Load rebuilds the network saved in dir.
func Load(dir string) (*Network, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	n, err := build(m.Config, nil)
	if err != nil {
		return nil, errors.Wrap(err, "saved model config")
	}
	if err := n.check(m); err != nil {
		return nil, err
	}
	file, err := os.Open(filepath.Join(dir, VariablesFile))
	if err != nil {
		return nil, errors.Wrap(err, "open variables")
	}
	defer file.Close()
	if err := n.ReadVariables(file); err != nil {
		return nil, errors.Wrap(err, "read variables")
	}
	return n, nil
}

// check verifies that the manifest indexes exactly the variables of n.
func (n *Network) check(m *Manifest) error {
	vs := n.Variables()
	if len(vs) != len(m.Variables) {
		return errors.Errorf("saved model has %d variables, network has %d", len(m.Variables), len(vs))
	}
	offset := 0
	for i, v := range vs {
		e := m.Variables[i]
		if e.Name != v.Name {
			return errors.Errorf("variable %d is %s, want %s", i, e.Name, v.Name)
		}
		if !sameShape(e.Shape, v.Shape) {
			return errors.Errorf("variable %s has shape %v, want %v", v.Name, e.Shape, v.Shape)
		}
		if e.Offset != offset {
			return errors.Errorf("variable %s at offset %d, want %d", v.Name, e.Offset, offset)
		}
		offset += len(v.Value)
	}
	return nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
