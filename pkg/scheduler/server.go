package scheduler

import (
	"encoding/json"
	"net/http"
	"pacbridge/pkg/apis"
	"pacbridge/pkg/apis/response"
	"pacbridge/pkg/runtime"
	"pacbridge/pkg/runtime/constant"
	v1 "pacbridge/pkg/v1"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

type VariableModel struct {
	*runtime.Variable
	Value     interface{} `json:"value"`
	Quality   string      `json:"quality"`
	Timestamp time.Time   `json:"timestamp"`
}

type StatusModel struct {
	Connected  bool     `json:"connected"`
	Controller string   `json:"controller"`
	Variables  int      `json:"variables"`
	Groups     []string `json:"groups"`
	Stats      Stats    `json:"stats"`
}

type ResponseModel struct {
	Variables []*VariableModel `json:"variables"`
}

func InstallHandler(group *gin.RouterGroup, s *Scheduler) {
	group.GET("/status", getStatus(s))
	group.GET("/variables", listVariables(s))
	group.GET("/variables/:name", getVariable(s))
	group.PUT("/variables/:name", putVariable(s))
	group.POST("/actions", postActions(s))
	group.POST("/refresh", refresh(s))
}

func (s *Scheduler) Status() StatusModel {
	return StatusModel{
		Connected:  s.Connected(),
		Controller: s.opts.Address + ":" + strconv.Itoa(s.opts.Port),
		Variables:  s.registry.Len(),
		Groups:     s.registry.Groups(),
		Stats:      s.Stats(),
	}
}

func (s *Scheduler) variableModel(v *runtime.Variable) *VariableModel {
	m := &VariableModel{Variable: v}
	if value, err := s.Value(v.Name); err == nil {
		m.Value = value.Value
		m.Quality = value.Quality.String()
		m.Timestamp = value.Timestamp
	}
	return m
}

func getStatus(s *Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Status())
	}
}

func listVariables(s *Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := runtime.VariableFilter{}
		if v := c.Query(apis.Filter); len(v) > 0 {
			if err := json.Unmarshal([]byte(v), &filter); err != nil {
				c.JSON(http.StatusBadRequest, response.NewMultiError(response.ErrMalformedJSON))
				return
			}
		}
		predicates := runtime.ParseVariableFilter(&filter)
		variables := s.registry.Variables()
		runtime.ByVariable(runtime.ByName).Sort(variables)

		models := make([]*VariableModel, 0, len(variables))
		for _, v := range variables {
			if runtime.Match(v, predicates) {
				models = append(models, s.variableModel(v))
			}
		}
		c.JSON(http.StatusOK, &ResponseModel{Variables: models})
	}
}

func getVariable(s *Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		v, ok := s.registry.Lookup(name)
		if !ok {
			c.JSON(http.StatusNotFound, response.NewMultiError(response.ErrResourceNotFound(name)))
			return
		}
		c.JSON(http.StatusOK, s.variableModel(v))
	}
}

func putVariable(s *Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		var body struct {
			Value interface{} `json:"value"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.Value == nil {
			klog.V(2).InfoS("Failed to parse variable write", "name", name, "err", err)
			c.JSON(http.StatusBadRequest, response.NewMultiError(response.ErrMalformedJSON))
			return
		}
		if err := s.Write(c.Request.Context(), name, body.Value); err != nil {
			status, re := writeError(name, err)
			c.JSON(status, response.NewMultiError(re))
			return
		}
		v, _ := s.registry.Lookup(name)
		c.JSON(http.StatusOK, s.variableModel(v))
	}
}

func postActions(s *Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var actions []v1.Action
		if err := c.ShouldBindJSON(&actions); err != nil {
			klog.V(2).InfoS("Failed to parse actions", "err", err)
			c.JSON(http.StatusBadRequest, response.NewMultiError(response.ErrMalformedJSON))
			return
		}
		if len(actions) == 0 {
			c.JSON(http.StatusBadRequest, response.NewMultiError(response.ErrLegalActionNotFound))
			return
		}
		errs := response.NewMultiError()
		models := make([]*VariableModel, 0, len(actions))
		for _, a := range actions {
			if a.Value == nil {
				errs.Add(response.ErrRequestBody)
				continue
			}
			if err := s.Write(c.Request.Context(), a.Name, a.Value); err != nil {
				_, re := writeError(a.Name, err)
				errs.Add(re)
				continue
			}
			v, _ := s.registry.Lookup(a.Name)
			models = append(models, s.variableModel(v))
		}
		if errs.Len() > 0 {
			c.JSON(http.StatusBadRequest, errs)
			return
		}
		c.JSON(http.StatusOK, &ResponseModel{Variables: models})
	}
}

func refresh(s *Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.RunCycle(c.Request.Context())
		c.JSON(http.StatusOK, s.Status())
	}
}

func writeError(name string, err error) (int, error) {
	switch {
	case errors.Is(err, constant.ErrUnknownVariable):
		return http.StatusNotFound, response.ErrResourceNotFound(name)
	case errors.Is(err, constant.ErrReadOnlyVariable):
		return http.StatusForbidden, response.ErrVariableReadOnly(name, err)
	case errors.Is(err, constant.ErrTypeMismatch):
		return http.StatusBadRequest, response.ErrTypeMismatch(name, err)
	case errors.Is(err, constant.ErrNotConnected):
		return http.StatusServiceUnavailable, response.ErrNotConnected
	default:
		return http.StatusBadGateway, response.ErrWriteRejected(name, err)
	}
}
