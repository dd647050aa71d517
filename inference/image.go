package inference

import "image"

import "github.com/pkg/errors"

import "github.com/edgeml/personcar/imageio"

// Score is one output as a probability and as the stored uint8.
type Score struct {
	Score float32 `json:"score"`
	Raw   uint8   `json:"raw"`
}

// Prediction holds both heads for one image.
type Prediction struct {
	Person Score `json:"person"`
	Car    Score `json:"car"`
}

// Pixels resizes img to the model input and returns its HWC bytes.
func (m *Model) Pixels(img image.Image) ([]byte, error) {
	in := m.InputTensor()
	if len(in.Shape) != 4 || in.Shape[0] != 1 || in.Shape[3] != 3 {
		return nil, errors.Errorf("model input %v is not 1×H×W×3", in.Shape)
	}
	h, w := in.Shape[1], in.Shape[2]
	buf := make([]byte, h*w*3)
	imageio.WriteUint8(buf, imageio.Resize(img, w, h))
	return buf, nil
}

// Classify runs img through the model.
func (it *Interpreter) Classify(img image.Image) (Prediction, error) {
	if len(it.model.Outputs) < 2 {
		return Prediction{}, errors.New("model needs a person and a car output")
	}
	buf, err := it.model.Pixels(img)
	if err != nil {
		return Prediction{}, err
	}
	if err := it.Invoke(buf); err != nil {
		return Prediction{}, err
	}
	person, car := it.Scores()
	return Prediction{
		Person: Score{Score: person, Raw: it.Output(0)[0]},
		Car:    Score{Score: car, Raw: it.Output(1)[0]},
	}, nil
}
