package causal

import "math"

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleVariance is the unbiased (n-1) estimator.
func sampleVariance(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return sum / float64(len(xs)-1)
}

// pooledStandardError computes the two-sample SE from pooled variance:
// sp^2 = ((n1-1)s1^2 + (n2-1)s2^2) / (n1+n2-2), SE = sp * sqrt(1/n1 + 1/n2).
func pooledStandardError(v1 float64, n1 int, v2 float64, n2 int) float64 {
	df := float64(n1 + n2 - 2)
	if df <= 0 {
		return 0
	}
	pooled := (float64(n1-1)*v1 + float64(n2-1)*v2) / df
	return math.Sqrt(pooled * (1/float64(n1) + 1/float64(n2)))
}

// tTestPValue returns the two-tailed p-value for a t statistic with df
// degrees of freedom, via the identity p = I_{df/(df+t^2)}(df/2, 1/2).
func tTestPValue(t float64, df int) float64 {
	if df <= 0 {
		return 1
	}
	if math.IsInf(t, 0) {
		return 0
	}
	x := float64(df) / (float64(df) + t*t)
	return regularizedIncompleteBeta(float64(df)/2, 0.5, x)
}

// regularizedIncompleteBeta computes I_x(a, b) with the standard continued
// fraction expansion (Lentz's method).
func regularizedIncompleteBeta(a, b, x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}

	lga, _ := math.Lgamma(a)
	lgb, _ := math.Lgamma(b)
	lgab, _ := math.Lgamma(a + b)
	front := math.Exp(lgab - lga - lgb + a*math.Log(x) + b*math.Log(1-x))

	// Continued fraction converges fastest for x < (a+1)/(a+b+2); use the
	// symmetry I_x(a,b) = 1 - I_{1-x}(b,a) otherwise.
	if x >= (a+1)/(a+b+2) {
		return 1 - regularizedIncompleteBeta(b, a, 1-x)
	}

	const (
		maxIterations = 200
		epsilon       = 1e-12
		tiny          = 1e-30
	)

	c := 1.0
	d := 1 - (a+b)*x/(a+1)
	if math.Abs(d) < tiny {
		d = tiny
	}
	d = 1 / d
	result := d

	for m := 1; m <= maxIterations; m++ {
		fm := float64(m)

		// Even step.
		num := fm * (b - fm) * x / ((a + 2*fm - 1) * (a + 2*fm))
		d = 1 + num*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		d = 1 / d
		c = 1 + num/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		result *= d * c

		// Odd step.
		num = -(a + fm) * (a + b + fm) * x / ((a + 2*fm) * (a + 2*fm + 1))
		d = 1 + num*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		d = 1 / d
		c = 1 + num/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		delta := d * c
		result *= delta

		if math.Abs(delta-1) < epsilon {
			break
		}
	}

	return front * result / a
}

// pearson computes the Pearson correlation coefficient of two aligned series.
// Returns 0 when either series is constant.
func pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n != len(ys) || n < 2 {
		return 0
	}

	mx, my := mean(xs), mean(ys)
	var sxy, sxx, syy float64
	for i := range xs {
		dx := xs[i] - mx
		dy := ys[i] - my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0
	}
	return sxy / math.Sqrt(sxx*syy)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
