package trees

import (
	"fmt"
	"os"

	scippb "github.com/sourcegraph/scip/bindings/go/scip"
	"google.golang.org/protobuf/proto"

	cmerrors "codemap/internal/errors"
)

// LoadSCIPFiles returns the document paths of the SCIP index at path. The
// paths are relative to the indexed project root.
func LoadSCIPFiles(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cmerrors.Wrap(cmerrors.TreesUnavailable, fmt.Sprintf("failed to read SCIP index from %s", path), err)
	}

	var index scippb.Index
	if err := proto.Unmarshal(data, &index); err != nil {
		return nil, cmerrors.Wrap(cmerrors.TreesUnavailable, fmt.Sprintf("failed to parse SCIP index from %s", path), err)
	}

	files := make([]string, 0, len(index.Documents))
	seen := make(map[string]struct{}, len(index.Documents))
	for _, doc := range index.Documents {
		p := doc.GetRelativePath()
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		files = append(files, p)
	}
	return files, nil
}
