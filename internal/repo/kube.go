package repo

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"

	"github.com/fleetvisor/fleetvisor/internal/models"
	"github.com/fleetvisor/fleetvisor/internal/utils"
)

// KubeClient gathers workload evidence from the cluster API and carries the
// deployment-scale remediation hook.
type KubeClient struct {
	clientset kubernetes.Interface
	namespace string
	logger    *slog.Logger
}

// NewKubeClient builds a cluster client. With an empty kubeconfig path it
// tries in-cluster config first, then ~/.kube/config.
func NewKubeClient(kubeconfig, namespace string, timeout time.Duration, logger *slog.Logger) (*KubeClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if namespace == "" {
		namespace = "default"
	}
	cfg, err := buildRestConfig(kubeconfig, timeout)
	if err != nil {
		return nil, err
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, utils.NewAppError("kube.new", "create clientset", err)
	}
	return &KubeClient{clientset: clientset, namespace: namespace, logger: logger}, nil
}

func buildRestConfig(kubeconfig string, timeout time.Duration) (*rest.Config, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	cfg, err := rest.InClusterConfig()
	if err != nil {
		if kubeconfig == "" {
			if home := homedir.HomeDir(); home != "" {
				kubeconfig = filepath.Join(home, ".kube", "config")
			}
		}
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, utils.NewAppError("kube.new", "build cluster config", err)
		}
	}
	// Evidence gathering runs on deadline-free contexts, so the API calls
	// must bound themselves.
	cfg.Timeout = timeout
	return cfg, nil
}

// NewKubeClientFromInterface wires a pre-built clientset, for tests.
func NewKubeClientFromInterface(clientset kubernetes.Interface, namespace string, logger *slog.Logger) *KubeClient {
	if logger == nil {
		logger = slog.Default()
	}
	if namespace == "" {
		namespace = "default"
	}
	return &KubeClient{clientset: clientset, namespace: namespace, logger: logger}
}

// DescribeWorkload resolves a pod for the service and summarises its state,
// containers and recent events. Pods are matched by app label first, then by
// name prefix.
func (k *KubeClient) DescribeWorkload(ctx context.Context, service, cluster string) (*models.WorkloadStatus, error) {
	pod, err := k.findPod(ctx, service)
	if err != nil {
		return nil, err
	}

	status := &models.WorkloadStatus{
		Name:      pod.Name,
		Namespace: pod.Namespace,
		Cluster:   cluster,
		Status:    string(pod.Status.Phase),
	}

	for _, cs := range pod.Status.ContainerStatuses {
		lastState := ""
		if cs.LastTerminationState.Terminated != nil {
			lastState = cs.LastTerminationState.Terminated.Reason
		}
		status.Containers = append(status.Containers, models.ContainerStatus{
			Name:         cs.Name,
			Ready:        cs.Ready,
			RestartCount: int(cs.RestartCount),
			LastState:    lastState,
		})
	}

	events, err := k.clientset.CoreV1().Events(pod.Namespace).List(ctx, metav1.ListOptions{
		FieldSelector: fmt.Sprintf("involvedObject.name=%s", pod.Name),
	})
	if err != nil {
		k.logger.Warn("listing workload events failed", "pod", pod.Name, "error", err)
	} else {
		for _, ev := range events.Items {
			status.Events = append(status.Events, models.WorkloadEvent{
				Type:    ev.Type,
				Reason:  ev.Reason,
				Message: ev.Message,
				Count:   int(ev.Count),
			})
		}
	}

	return status, nil
}

func (k *KubeClient) findPod(ctx context.Context, service string) (*corev1.Pod, error) {
	pods, err := k.clientset.CoreV1().Pods(k.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("app=%s", service),
	})
	if err != nil {
		return nil, utils.NewAppError("kube.describe", "list pods", err)
	}
	if len(pods.Items) > 0 {
		return &pods.Items[0], nil
	}

	all, err := k.clientset.CoreV1().Pods(k.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, utils.NewAppError("kube.describe", "list pods", err)
	}
	for i := range all.Items {
		if strings.HasPrefix(all.Items[i].Name, service) {
			return &all.Items[i], nil
		}
	}
	return nil, utils.NewAppError("kube.describe",
		fmt.Sprintf("no pod found for service %q in namespace %q", service, k.namespace), utils.ErrNotFound)
}

// ScaleDeployment sets the replica count on the service's deployment. Used
// by auto-remediation actions; callers gate it behind auto_remediate.
func (k *KubeClient) ScaleDeployment(ctx context.Context, service string, replicas int32) error {
	scale, err := k.clientset.AppsV1().Deployments(k.namespace).GetScale(ctx, service, metav1.GetOptions{})
	if err != nil {
		return utils.NewAppError("kube.scale", fmt.Sprintf("get scale for %q", service), err)
	}
	scale.Spec.Replicas = replicas
	if _, err := k.clientset.AppsV1().Deployments(k.namespace).UpdateScale(ctx, service, scale, metav1.UpdateOptions{}); err != nil {
		return utils.NewAppError("kube.scale", fmt.Sprintf("update scale for %q", service), err)
	}
	k.logger.Info("scaled deployment", "service", service, "replicas", replicas)
	return nil
}
