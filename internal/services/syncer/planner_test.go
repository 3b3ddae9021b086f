package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type randMock struct {
	mock.Mock
}

func (m *randMock) Intn(n int) int {
	return m.Called(n).Int(0)
}

type PlannerSuite struct {
	suite.Suite
}

func (s *PlannerSuite) TestBackoffDelay() {
	p := NewPlanner(PlannerConfig{}, &randMock{})
	s.Equal(5*time.Second, p.BackoffDelay(1))
	s.Equal(15*time.Second, p.BackoffDelay(2))
	s.Equal(30*time.Second, p.BackoffDelay(3))
	s.Equal(2*time.Minute, p.BackoffDelay(4))
	s.Equal(2*time.Minute, p.BackoffDelay(100))
}

func (s *PlannerSuite) TestNextDelay_HealthyUsesInterval() {
	m := &randMock{}
	p := NewPlanner(PlannerConfig{Interval: 10 * time.Second}, m)
	s.Equal(10*time.Second, p.NextDelay(0))
	m.AssertNotCalled(s.T(), "Intn", mock.Anything)
}

func (s *PlannerSuite) TestNextDelay_BackoffWithJitter() {
	m := &randMock{}
	m.On("Intn", 2001).Return(750).Once()

	p := NewPlanner(PlannerConfig{}, m)
	s.Equal(15*time.Second+750*time.Millisecond, p.NextDelay(2))
	m.AssertExpectations(s.T())
}

func (s *PlannerSuite) TestNextDelay_NoJitter() {
	p := NewPlanner(PlannerConfig{Jitter: -1}, &randMock{})
	s.Equal(5*time.Second, p.NextDelay(1))
}

func TestPlannerSuite(t *testing.T) {
	suite.Run(t, new(PlannerSuite))
}
