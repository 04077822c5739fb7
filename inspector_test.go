package fanout

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type JSONInspectorSuite struct {
	suite.Suite
	inspector Inspector
}

func (s *JSONInspectorSuite) SetupTest() {
	s.inspector = JSONInspector()
}

func TestJSONInspectorSuite(t *testing.T) {
	suite.Run(t, new(JSONInspectorSuite))
}

func (s *JSONInspectorSuite) TestReturnsViewForValidJSON() {
	view, err := s.inspector.Inspect([]byte(`{"post_type": "message"}`))

	s.Require().NoError(err)
	s.Assert().NotNil(view)
}

func (s *JSONInspectorSuite) TestReturnsErrorForInvalidJSON() {
	_, err := s.inspector.Inspect([]byte(`{not valid}`))

	s.Assert().ErrorIs(err, ErrInvalidJSON)
}

func (s *JSONInspectorSuite) TestReturnsErrorForEmptyInput() {
	_, err := s.inspector.Inspect([]byte{})

	s.Assert().ErrorIs(err, ErrInvalidJSON)
}

type JSONViewSuite struct {
	suite.Suite
	view View
}

func (s *JSONViewSuite) SetupTest() {
	raw := []byte(`{
		"post_type": "message",
		"self_id": 10001,
		"anonymous": false,
		"sender": {
			"nickname": "alice",
			"role": {"name": "admin"}
		}
	}`)

	var err error
	s.view, err = JSONInspector().Inspect(raw)
	s.Require().NoError(err)
}

func TestJSONViewSuite(t *testing.T) {
	suite.Run(t, new(JSONViewSuite))
}

func (s *JSONViewSuite) TestHasField() {
	tests := map[string]struct {
		path   string
		exists bool
	}{
		"top level":      {"post_type", true},
		"object":         {"sender", true},
		"nested":         {"sender.nickname", true},
		"deeply nested":  {"sender.role.name", true},
		"false boolean":  {"anonymous", true},
		"missing":        {"missing", false},
		"nested missing": {"sender.missing", false},
	}

	for name, tt := range tests {
		s.Run(name, func() {
			s.Assert().Equal(tt.exists, s.view.HasField(tt.path))
		})
	}
}

func (s *JSONViewSuite) TestGetString() {
	val, ok := s.view.GetString("sender.nickname")
	s.Require().True(ok)
	s.Assert().Equal("alice", val)

	_, ok = s.view.GetString("self_id")
	s.Assert().False(ok, "number is not a string")

	_, ok = s.view.GetString("anonymous")
	s.Assert().False(ok, "boolean is not a string")

	_, ok = s.view.GetString("missing")
	s.Assert().False(ok)
}

func (s *JSONViewSuite) TestGetInt() {
	val, ok := s.view.GetInt("self_id")
	s.Require().True(ok)
	s.Assert().Equal(int64(10001), val)

	_, ok = s.view.GetInt("post_type")
	s.Assert().False(ok, "string is not a number")

	_, ok = s.view.GetInt("missing")
	s.Assert().False(ok)
}

func (s *JSONViewSuite) TestGetBytes() {
	val, ok := s.view.GetBytes("post_type")
	s.Require().True(ok)
	s.Assert().Equal(`"message"`, string(val))

	val, ok = s.view.GetBytes("self_id")
	s.Require().True(ok)
	s.Assert().Equal("10001", string(val))

	val, ok = s.view.GetBytes("sender.role")
	s.Require().True(ok)
	s.Assert().Equal(`{"name": "admin"}`, string(val))

	_, ok = s.view.GetBytes("missing")
	s.Assert().False(ok)
}
