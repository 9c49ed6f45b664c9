/*
Copyright 2025 The Hydrosim Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package resources builds the Kubernetes object graph for one student
// workload. Pure construction, no API calls.
package resources

import (
	"path"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/hjunqq/hydrosim-platform/pkg/portal/naming"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/util"
)

const (
	containerName = "app"
	portName      = "http"
	containerPort = 8000
	servicePort   = 80

	DefaultPVCSize      = "1Gi"
	DefaultPVCMountPath = "/data"
)

// Traefik routing annotations, shared with the ingress TLS reconciler.
const (
	IngressClassAnnotation = "kubernetes.io/ingress.class"
	EntrypointsAnnotation  = "traefik.ingress.kubernetes.io/router.entrypoints"
	RouterTLSAnnotation    = "traefik.ingress.kubernetes.io/router.tls"

	IngressClass         = "traefik"
	EntrypointsWeb       = "web"
	EntrypointsWebSecure = "web,websecure"
)

// Options tune the optional parts of the object graph.
type Options struct {
	PVCEnabled      bool
	PVCSize         string
	PVCStorageClass string
	PVCMountPath    string
	TLSSecretName   string
}

// Builder emits the Deployment, Service, PersistentVolumeClaim and
// Ingress for one student.
type Builder struct {
	studentCode  string
	dnsLabel     string
	image        string
	namespace    string
	domainSuffix string
	hostPrefix   string
	opts         Options

	appName string
	labels  map[string]string
}

// Resources groups everything one deploy materializes. PVC is nil when
// persistent storage is disabled.
type Resources struct {
	Deployment *appsv1.Deployment
	Service    *corev1.Service
	PVC        *corev1.PersistentVolumeClaim
	Ingress    *networkingv1.Ingress
}

func NewBuilder(studentCode, image, namespace, domainSuffix, hostPrefix string, opts Options) *Builder {
	return &Builder{
		studentCode:  studentCode,
		dnsLabel:     naming.Normalize(studentCode),
		image:        image,
		namespace:    namespace,
		domainSuffix: strings.TrimLeft(domainSuffix, "."),
		hostPrefix:   hostPrefix,
		opts:         opts,
		appName:      naming.ResourceName(studentCode),
		labels:       naming.Labels(studentCode),
	}
}

// All builds the full object graph at once.
func (b *Builder) All() Resources {
	return Resources{
		Deployment: b.Deployment(),
		Service:    b.Service(),
		PVC:        b.PVC(),
		Ingress:    b.Ingress(),
	}
}

// Name returns the shared resource name, student-{normalized code}.
func (b *Builder) Name() string {
	return b.appName
}

// Host returns the public host the ingress routes.
func (b *Builder) Host() string {
	return b.hostPrefix + b.dnsLabel + "." + b.domainSuffix
}

func (b *Builder) metadata() metav1.ObjectMeta {
	return metav1.ObjectMeta{
		Name:      b.appName,
		Namespace: b.namespace,
		Labels:    b.labels,
	}
}

func (b *Builder) mountPath() string {
	if b.opts.PVCMountPath != "" {
		return b.opts.PVCMountPath
	}
	return DefaultPVCMountPath
}

// Deployment enforces the workload policy: one always-pulled replica,
// bounded resources, non-root, TCP probes and zero-downtime rollout.
func (b *Builder) Deployment() *appsv1.Deployment {
	container := corev1.Container{
		Name:            containerName,
		Image:           b.image,
		ImagePullPolicy: corev1.PullAlways,
		Ports: []corev1.ContainerPort{{
			Name:          portName,
			ContainerPort: containerPort,
		}},
		Resources: corev1.ResourceRequirements{
			Limits: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse("500m"),
				corev1.ResourceMemory: resource.MustParse("512Mi"),
			},
			Requests: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse("100m"),
				corev1.ResourceMemory: resource.MustParse("128Mi"),
			},
		},
		Env: []corev1.EnvVar{
			{Name: "STUDENT_CODE", Value: b.studentCode},
			{Name: "APP_NAME", Value: b.appName},
		},
		SecurityContext: &corev1.SecurityContext{
			RunAsNonRoot:             util.Ptr(true),
			RunAsUser:                util.Ptr(int64(1000)),
			AllowPrivilegeEscalation: util.Ptr(false),
		},
		ReadinessProbe: tcpProbe(5, 10),
		LivenessProbe:  tcpProbe(15, 20),
	}

	podSpec := corev1.PodSpec{
		RestartPolicy: corev1.RestartPolicyAlways,
	}

	if b.opts.PVCEnabled {
		mountPath := b.mountPath()
		container.Env = append(container.Env,
			corev1.EnvVar{Name: "DATA_DIR", Value: mountPath},
			corev1.EnvVar{Name: "DB_FILE", Value: path.Join(mountPath, "app.db")},
		)
		container.VolumeMounts = []corev1.VolumeMount{{
			Name:      "data",
			MountPath: mountPath,
		}}
		podSpec.Volumes = []corev1.Volume{{
			Name: "data",
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
					ClaimName: b.appName,
				},
			},
		}}
		podSpec.SecurityContext = &corev1.PodSecurityContext{
			FSGroup: util.Ptr(int64(1000)),
		}
	}
	podSpec.Containers = []corev1.Container{container}

	return &appsv1.Deployment{
		ObjectMeta: b.metadata(),
		Spec: appsv1.DeploymentSpec{
			Replicas: util.Ptr(int32(1)),
			Selector: &metav1.LabelSelector{MatchLabels: b.labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: b.labels},
				Spec:       podSpec,
			},
			ProgressDeadlineSeconds: util.Ptr(int32(600)),
			Strategy: appsv1.DeploymentStrategy{
				Type: appsv1.RollingUpdateDeploymentStrategyType,
				RollingUpdate: &appsv1.RollingUpdateDeployment{
					MaxSurge:       util.Ptr(intstr.FromInt(1)),
					MaxUnavailable: util.Ptr(intstr.FromInt(0)),
				},
			},
		},
	}
}

// Service exposes the workload inside the cluster on port 80.
func (b *Builder) Service() *corev1.Service {
	return &corev1.Service{
		ObjectMeta: b.metadata(),
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: b.labels,
			Ports: []corev1.ServicePort{{
				Name:       portName,
				Port:       servicePort,
				TargetPort: intstr.FromString(portName),
			}},
		},
	}
}

// PVC returns the student's data volume claim, or nil when persistent
// storage is disabled.
func (b *Builder) PVC() *corev1.PersistentVolumeClaim {
	if !b.opts.PVCEnabled {
		return nil
	}
	quantity, err := resource.ParseQuantity(b.opts.PVCSize)
	if err != nil {
		quantity = resource.MustParse(DefaultPVCSize)
	}
	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: b.metadata(),
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.ResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: quantity,
				},
			},
		},
	}
	if b.opts.PVCStorageClass != "" {
		pvc.Spec.StorageClassName = util.Ptr(b.opts.PVCStorageClass)
	}
	return pvc
}

// Ingress routes the student's public host to the service. When a TLS
// secret is configured the websecure entrypoint and TLS stanza are
// added so Traefik terminates HTTPS.
func (b *Builder) Ingress() *networkingv1.Ingress {
	host := b.Host()
	pathType := networkingv1.PathTypePrefix

	annotations := map[string]string{
		IngressClassAnnotation: IngressClass,
		EntrypointsAnnotation:  EntrypointsWeb,
	}
	ingress := &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:        b.appName,
			Namespace:   b.namespace,
			Labels:      b.labels,
			Annotations: annotations,
		},
		Spec: networkingv1.IngressSpec{
			Rules: []networkingv1.IngressRule{{
				Host: host,
				IngressRuleValue: networkingv1.IngressRuleValue{
					HTTP: &networkingv1.HTTPIngressRuleValue{
						Paths: []networkingv1.HTTPIngressPath{{
							Path:     "/",
							PathType: &pathType,
							Backend: networkingv1.IngressBackend{
								Service: &networkingv1.IngressServiceBackend{
									Name: b.appName,
									Port: networkingv1.ServiceBackendPort{Number: servicePort},
								},
							},
						}},
					},
				},
			}},
		},
	}
	if b.opts.TLSSecretName != "" {
		annotations[EntrypointsAnnotation] = EntrypointsWebSecure
		annotations[RouterTLSAnnotation] = "true"
		ingress.Spec.IngressClassName = util.Ptr(IngressClass)
		ingress.Spec.TLS = []networkingv1.IngressTLS{{
			Hosts:      []string{host},
			SecretName: b.opts.TLSSecretName,
		}}
	}
	return ingress
}

func tcpProbe(initialDelay, period int32) *corev1.Probe {
	return &corev1.Probe{
		ProbeHandler: corev1.ProbeHandler{
			TCPSocket: &corev1.TCPSocketAction{
				Port: intstr.FromInt(containerPort),
			},
		},
		InitialDelaySeconds: initialDelay,
		PeriodSeconds:       period,
		FailureThreshold:    3,
	}
}
