package backbone

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"

	"github.com/sugarme/fcn/encoder"
)

// Artifact file names.
const (
	SignatureFile = "signature.csv"
	VariablesFile = "variables.ot"
)

// Entry point kinds.
const (
	KindInput   = "input"
	KindControl = "control"
	KindFeature = "feature"
)

var signatureColumns = []string{"tag", "name", "kind", "stride", "channels"}

// Entry is one row of a signature file.
type Entry struct {
	Name     string
	Kind     string
	Stride   int64
	Channels int64
}

// SignaturePath returns the signature file of the artifact in dir.
func SignaturePath(dir string) string {
	return filepath.Join(dir, SignatureFile)
}

// VariablesPath returns the variables file of the artifact in dir.
func VariablesPath(dir string) string {
	return filepath.Join(dir, VariablesFile)
}

// ReadSignature reads the entry points published under tag.
func ReadSignature(path, tag string) (map[string]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open backbone signature")
	}
	defer f.Close()

	df := dataframe.ReadCSV(f,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	if df.Err != nil {
		return nil, errors.Wrapf(df.Err, "parse %s", path)
	}
	names := map[string]bool{}
	for _, n := range df.Names() {
		names[n] = true
	}
	for _, c := range signatureColumns {
		if !names[c] {
			return nil, errors.Errorf("%s: missing column %q", path, c)
		}
	}

	tags := df.Col("tag").Records()
	entryNames := df.Col("name").Records()
	kinds := df.Col("kind").Records()
	strides := df.Col("stride").Records()
	channels := df.Col("channels").Records()

	sig := map[string]Entry{}
	for i := 0; i < df.Nrow(); i++ {
		if tags[i] != tag {
			continue
		}
		stride, err := strconv.ParseInt(strides[i], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "%s row %d: stride", path, i+1)
		}
		ch, err := strconv.ParseInt(channels[i], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "%s row %d: channels", path, i+1)
		}
		sig[entryNames[i]] = Entry{Name: entryNames[i], Kind: kinds[i], Stride: stride, Channels: ch}
	}
	if len(sig) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "tag %q in %s", tag, path)
	}

	return sig, nil
}

// WriteSignature writes the signature of the tagged architecture into dir.
func WriteSignature(dir, tag string) error {
	channels, err := encoder.ChannelsOf(tag)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	itoa := func(v int64) string { return strconv.FormatInt(v, 10) }
	records := [][]string{
		signatureColumns,
		{tag, ImageInputName, KindInput, "1", "3"},
		{tag, KeepProbName, KindControl, "0", "0"},
	}
	for i, name := range []string{Layer3Name, Layer4Name, Layer7Name} {
		records = append(records, []string{tag, name, KindFeature, itoa(encoder.Strides[i]), itoa(channels[i])})
	}
	df := dataframe.LoadRecords(records,
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	if df.Err != nil {
		return df.Err
	}

	f, err := os.Create(SignaturePath(dir))
	if err != nil {
		return err
	}
	defer f.Close()

	return df.WriteCSV(f)
}
